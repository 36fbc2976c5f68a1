package session

import "errors"

var (
	// ErrNotConnected is returned when no session is active.
	ErrNotConnected = errors.New("no active session")
	// ErrConnectSuperseded is returned by a connect that a disconnect or
	// reconnect overtook while it was dialing.
	ErrConnectSuperseded = errors.New("connect superseded")
	// ErrSessionClosed is returned for events sent to a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrEmptyMessage is returned by SendText for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSendFailed wraps transport errors from SendText. The typed turn stays in the transcript.
	ErrSendFailed = errors.New("message send failed")
	// ErrInvalidRole is returned for segments with an unknown role.
	ErrInvalidRole = errors.New("invalid role")
)
