package domain

import "fmt"

// SchemaError reports a malformed or out-of-range input cell.
// Line is the 1-based line in the input file (the header is line 1);
// zero means the violation concerns the table as a whole.
type SchemaError struct {
	Line      int
	Column    string
	Violation string
}

func (e *SchemaError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("schema error: line %d, column %q: %s", e.Line, e.Column, e.Violation)
	}
	return fmt.Sprintf("schema error: column %q: %s", e.Column, e.Violation)
}

// InsufficientDataError reports that a stage had fewer usable rows than it needs.
type InsufficientDataError struct {
	Stage string
	Have  int
	Need  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d rows, need at least %d", e.Stage, e.Have, e.Need)
}

// IOError reports a read or write failure on an external artifact.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
