package core

import "io"

// UI defines the interface for user-facing output of the CLI.
type UI interface {
	// Section prints a section header.
	Section(title string)
	// Title prints a main title.
	Title(title string)
	// Success prints a success message.
	Success(msg string)
	// Info prints an informational message.
	Info(msg string)
	// Warning prints a warning message.
	Warning(msg string)
	// Error prints an error message.
	Error(msg string)
	// Table renders rows, the first one being the header.
	Table(rows [][]string) error
	// Tree renders an indented outline; each item carries its depth.
	Tree(items []TreeItem) error
	// Printf prints a formatted message.
	Printf(format string, args ...interface{})
	// WithWriter returns a new UI instance writing to the specified writer.
	WithWriter(w io.Writer) UI
}

// TreeItem is one line of a UI tree.
type TreeItem struct {
	Level int
	Text  string
}
