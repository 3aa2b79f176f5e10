package service

import (
	"fmt"
	"strings"
)

// Problem describes one rejected input field.
type Problem struct {
	Field   string
	Rule    string
	Message string
}

// ValidationError is returned when input fails field validation. Nothing is
// written when it is returned.
type ValidationError struct {
	Entity   string
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(msgs, "; "))
}
