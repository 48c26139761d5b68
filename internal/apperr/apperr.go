// Package apperr defines the error taxonomy shared by the server and client
// halves of the protocol. A Kind is the single word that appears on the wire
// after "ERROR "; the message is free-form text for humans.
package apperr

import "fmt"

// Kind is one of the wire-level error taxons from the protocol.
type Kind string

const (
	KindUnknownCommand      Kind = "unknown_command"
	KindNoPath              Kind = "no_path"
	KindInvalidCommand      Kind = "invalid_command"
	KindAccessDenied        Kind = "access_denied"
	KindFileNotFound        Kind = "file_not_found"
	KindDirectoryNotFound   Kind = "directory_not_found"
	KindPathNotFound        Kind = "path_not_found"
	KindIsDirectory         Kind = "is_directory"
	KindNotDirectory        Kind = "not_directory"
	KindOverwriteError      Kind = "overwrite_error"
	KindFileInUse           Kind = "file_in_use"
	KindFileOpenFailed      Kind = "file_open_failed"
	KindFileWriteFailed     Kind = "file_write_failed"
	KindDirectoryCreateFail Kind = "directory_create_failed"
	KindRecvFailed          Kind = "recv_failed"
	KindSendFailed          Kind = "send_failed"
	KindConnectionClosed    Kind = "connection_closed"
	KindUserExists          Kind = "user_exists"
	KindAuthenticationFail  Kind = "authentication_failed"
	KindPermissionDenied    Kind = "permission_denied"
	KindUnknownResponse     Kind = "unknown_response"
	KindInternal            Kind = "internal_error"
)

// Error is a taxonomy error: a Kind plus a human-readable message. Session
// command dispatch turns one of these into a single "ERROR <kind>:\n<msg>"
// reply; anything else is wrapped with KindInternal.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an *Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// As extracts an *Error from err, wrapping it as KindInternal if err is not
// already one.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*Error); ok {
		return ae
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}

// IsTransport reports whether kind is a transport failure (connection_closed,
// recv_failed, send_failed), after which the session is closed instead of
// going back to waiting for the next command.
func (k Kind) IsTransport() bool {
	return k == KindConnectionClosed || k == KindRecvFailed || k == KindSendFailed
}
