package hook

import (
	"fmt"
)

// CaptureFailureError is returned by Factory.Acquire when the platform lookup
// for the original handler fails. The protocol stays uninstalled.
type CaptureFailureError struct {
	Protocol string
	Err      error
}

func (e *CaptureFailureError) Error() string {
	return fmt.Sprintf("hook: capturing %s handler: %s", e.Protocol, e.Err)
}

func (e *CaptureFailureError) Unwrap() error {
	return e.Err
}

// HandlerNotCapturedError means the Interceptor was asked to open a
// connection for a protocol that has no captured handler.
type HandlerNotCapturedError struct {
	Protocol string
}

func (e *HandlerNotCapturedError) Error() string {
	return fmt.Sprintf("hook: no captured handler for %q", e.Protocol)
}

// ConnectionError carries the delegate's connect failure unchanged.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("hook: open %s: %s", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
