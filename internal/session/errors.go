package session

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteDisconnect reports that the remote avatar service ended the session.
	ErrRemoteDisconnect = errors.New("remote disconnect")
	// ErrNoSession is returned for commands that need an active session.
	ErrNoSession = errors.New("no active session")
	// ErrNotRunning is returned when commands are posted after Run exited.
	ErrNotRunning = errors.New("controller is not running")
)

func remoteDisconnect(reason string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s: %w", ErrRemoteDisconnect, reason, cause)
	}
	return fmt.Errorf("%w: %s", ErrRemoteDisconnect, reason)
}
