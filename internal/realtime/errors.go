package realtime

import "errors"

var (
	// ErrNotAParticipant is returned when a connection tries to join a
	// conversation topic its user is not a participant of.
	ErrNotAParticipant = errors.New("user is not a participant of the conversation")

	// ErrMessageNotFound is returned when a seen acknowledgement refers to a
	// message that no longer exists.
	ErrMessageNotFound = errors.New("message not found")

	// ErrConversationNotFound is returned when a fan-out target refers to a
	// conversation that no longer exists.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrClientDisconnected is returned when a delivery is attempted against a
	// connection that has already closed.
	ErrClientDisconnected = errors.New("client disconnected")

	// ErrStoreUnavailable wraps persisted-store failures during join-time
	// validation. The joining client may retry; the subscription is never
	// granted on a store failure.
	ErrStoreUnavailable = errors.New("persisted store unavailable")

	// ErrUnknownConnection is returned for operations on a connection id the
	// registry does not know about.
	ErrUnknownConnection = errors.New("unknown connection")
)
