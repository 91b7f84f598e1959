package core

// Result is the outcome of generating one root package, as reported by the CLI.
type Result struct {
	// Name identifies the package (path or URL).
	Name string

	// Succeeded is false when any template was left with unresolved references.
	Succeeded bool

	// Failed means the run aborted; Error carries the cause.
	Failed bool

	// Message is a human readable summary.
	Message string

	Error error
}

// SuccessResult reports a run where every template rendered cleanly.
func SuccessResult(name, msg string) Result {
	return Result{Name: name, Succeeded: true, Message: msg}
}

// IncompleteResult reports a run that finished but left unresolved references.
func IncompleteResult(name, msg string) Result {
	return Result{Name: name, Message: msg}
}

// Failure reports an aborted run.
func Failure(name string, err error, msg string) Result {
	return Result{
		Name:    name,
		Failed:  true,
		Message: msg,
		Error:   err,
	}
}
