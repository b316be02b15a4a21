package dashboard

import "fmt"

// ValidationError reports missing or malformed user input caught before
// any request is sent.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// TransportError wraps a network or timeout failure. These are retryable:
// the next poll tick or an explicit user retry may succeed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response carrying a structured detail body.
// Detail is surfaced to the user verbatim.
type ServerError struct {
	StatusCode int
	Detail     string
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("server returned status %d", e.StatusCode)
}

// PreconditionError reports a client-enforced business rule violation,
// such as downloading a job that has not completed.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return e.Msg }
