package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a catalog object does not exist at the
// addressed key. The store adapter wraps it with the bucket and key.
var ErrNotFound = errors.New("object not found")

// ValidationError reports the fields of a record that are missing or of the
// wrong type. It is raised synchronously at construction time and never
// retried.
type ValidationError struct {
	Kind   string // "image" or "link"
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s record: missing or invalid fields: %s", e.Kind, strings.Join(e.Fields, ", "))
}

// InvalidArgumentError reports a missing or non-string argument to a key
// builder.
type InvalidArgumentError struct {
	Name string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("missing or invalid argument: %s", e.Name)
}

// IsValidation reports whether err is a ValidationError or an
// InvalidArgumentError, i.e. a caller bug rather than a store failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	var ae *InvalidArgumentError
	return errors.As(err, &ve) || errors.As(err, &ae)
}
