package event

import "fmt"

// EventError represents an error during event construction or publication.
type EventError struct {
	Event   Event  // The event that failed
	Message string // Error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", e.Event.ID(), e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", e.Event.ID(), e.Message)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Err
}

// Fault records a listener failure that the bus isolated.
// Faults never reach the publisher or other listeners; they surface only
// through logging and the OnFault callback.
type Fault struct {
	EventID    string
	EventType  string
	Subscriber string
	Err        error
	Panic      any // Non-nil when the listener panicked
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("listener %s panicked on %s event %s: %v", f.Subscriber, f.EventType, f.EventID, f.Panic)
	}
	return fmt.Sprintf("listener %s failed on %s event %s: %v", f.Subscriber, f.EventType, f.EventID, f.Err)
}

// Unwrap returns the listener error.
func (f *Fault) Unwrap() error {
	return f.Err
}
