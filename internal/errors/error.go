package errors

import (
	"bufio"
	"errors"
	"fmt"
	"os"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryCLI       Category = "cli"
	CategoryTransport Category = "transport"
	CategoryStorage   Category = "storage"
)

// Location represents a position in a configuration file.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// ReplinetError is a coded error with location, suggestion and example.
type ReplinetError struct {
	// Code is a unique error identifier (e.g., "E101").
	Code string

	// Category is the error type.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the file position where the error occurred.
	Location *Location

	// Context contains the lines surrounding Location.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Example shows a correct configuration or command line.
	Example string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *ReplinetError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *ReplinetError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds a file position and reads the surrounding lines.
func (e *ReplinetError) WithLocation(file string, line, column int) *ReplinetError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *ReplinetError) WithSuggestion(s string) *ReplinetError {
	e.Suggestion = s
	return e
}

// WithExample adds an example to the error.
func (e *ReplinetError) WithExample(ex string) *ReplinetError {
	e.Example = ex
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *ReplinetError) WithDetail(d string) *ReplinetError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *ReplinetError) Wrap(err error) *ReplinetError {
	e.Wrapped = err
	return e
}

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}
	return lines
}

// New creates a ReplinetError from a registered error code.
func New(code string) *ReplinetError {
	template, ok := registry[code]
	if !ok {
		return &ReplinetError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &ReplinetError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new ReplinetError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *ReplinetError {
	return &ReplinetError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err in a ReplinetError with code unless it already is one.
func FromError(err error, code string) *ReplinetError {
	if err == nil {
		return nil
	}
	var re *ReplinetError
	if errors.As(err, &re) {
		return re
	}
	return New(code).Wrap(err)
}
