package framer

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError is returned when no correlated response arrived in time.
type TimeoutError struct {
	ID      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response to request %s within %s", e.ID, e.Timeout)
}

// CanceledError is returned when a pending correlation was aborted before a
// response arrived. Reason states who aborted it and why.
type CanceledError struct {
	ID     string
	Reason string
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("request %s canceled: %s", e.ID, e.Reason)
}

// DuplicateIDError is returned when a correlation id is registered while a
// previous registration for the same id is still pending.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("request id %s already has a pending response", e.ID)
}

// IsTimeout reports whether err is a correlation timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
