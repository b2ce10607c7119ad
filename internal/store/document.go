package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"tablestore/internal/model"
)

// DecodeDocuments parses a replace-all body: a JSON array of objects, each
// carrying an id.
func DecodeDocuments(raw []byte) ([]model.Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("%w: body must be a JSON array", ErrInvalidPayload)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	docs := make([]model.Document, 0, len(items))
	for i, item := range items {
		doc, err := DecodeDocument(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// DecodeDocument parses a single JSON object and extracts its id. A numeric
// id is kept as its decimal text.
func DecodeDocument(raw []byte) (model.Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return model.Document{}, fmt.Errorf("%w: document must be a JSON object", ErrInvalidPayload)
	}

	// A map keeps key matching exact; struct tags would also accept "ID".
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	id, err := documentID(fields["id"])
	if err != nil {
		return model.Document{}, err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return model.Document{ID: id, Data: compact.Bytes()}, nil
}

func documentID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: document is missing id", ErrInvalidPayload)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("%w: document id is empty", ErrInvalidPayload)
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: document id must be a string or number", ErrInvalidPayload)
}

// CollapseDuplicates folds documents sharing an id into one entry: the last
// payload wins and the entry keeps the position of the first occurrence.
func CollapseDuplicates(docs []model.Document) []model.Document {
	pos := make(map[string]int, len(docs))
	out := make([]model.Document, 0, len(docs))
	for _, d := range docs {
		if i, ok := pos[d.ID]; ok {
			out[i] = d
			continue
		}
		pos[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}

// NormalizeEmail is the canonical form used for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
