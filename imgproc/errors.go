package imgproc

import (
	"fmt"
	"strings"
)

// ProxyFetchError reports a remote image that could not be fetched. Status
// carries the origin's HTTP status when it answered, a gateway status
// otherwise.
type ProxyFetchError struct {
	URL     string
	Status  int
	Message string
}

func (e *ProxyFetchError) Error() string {
	return fmt.Sprintf("fetching %s: %d %s", e.URL, e.Status, e.Message)
}

// ImageLoadError reports a payload that could not be decoded into pixels.
type ImageLoadError struct {
	Err error
}

func (e *ImageLoadError) Error() string {
	return "image could not be decoded: " + e.Err.Error()
}

func (e *ImageLoadError) Unwrap() error { return e.Err }

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every violated input constraint.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
