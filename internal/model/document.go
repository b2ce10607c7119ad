package model

import "encoding/json"

// Document is one opaque JSON object stored under its id. Data is kept
// verbatim; the store never looks past the id.
type Document struct {
	ID   string
	Data json.RawMessage
}

func (d Document) MarshalJSON() ([]byte, error) {
	if len(d.Data) == 0 {
		return []byte("null"), nil
	}
	return d.Data, nil
}
