package memory

import (
	"fmt"

	"tablestore/internal/store"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.NewString()
}

// errWithCode reports a validation failure the HTTP layer shows as a bad payload.
func errWithCode(code string) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidPayload, code)
}
