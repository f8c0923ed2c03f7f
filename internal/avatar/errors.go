package avatar

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionCreation matches every SessionCreationError.
	ErrSessionCreation = errors.New("session creation failed")
	// ErrSessionClosed is returned by writes on a closed session.
	ErrSessionClosed = errors.New("avatar session is closed")
)

// SessionCreationError reports that no session could be established. Stage
// names the failing step: backend, dial or start.
type SessionCreationError struct {
	Stage string
	Err   error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("create avatar session (%s): %v", e.Stage, e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

func (e *SessionCreationError) Is(target error) bool {
	return target == ErrSessionCreation
}
