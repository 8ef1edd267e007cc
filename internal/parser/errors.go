package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrEncoding is returned when no supported text encoding yields a readable table
	ErrEncoding = errors.New("no supported text encoding could read the file")

	// ErrSchema is returned when the table has fewer than two columns
	ErrSchema = errors.New("table needs at least a date and a consumption column")
)

// ParseError wraps a failure to turn an artifact into readings
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parsing export: %v", e.Err)
	}
	return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
