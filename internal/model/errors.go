package model

import "errors"

var (
	// ErrInvalidName is returned when a join name is empty after trimming.
	ErrInvalidName = errors.New("display name is required")

	// ErrInvalidRole is returned when a join role is not a known role.
	ErrInvalidRole = errors.New("invalid role")

	// ErrDuplicateJoin is returned when the trimmed name is already taken
	// in the target session.
	ErrDuplicateJoin = errors.New("name already taken in session")

	// ErrUnknownParticipant is returned when an operation references a
	// connection id absent from the registry.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrInvalidLocation is returned when coordinates fall outside the
	// valid latitude/longitude ranges.
	ErrInvalidLocation = errors.New("invalid coordinates")

	// ErrInvalidMessage is returned when message text is empty after
	// trimming or exceeds the length bound.
	ErrInvalidMessage = errors.New("invalid message text")

	// ErrRateLimited is returned when messages arrive faster than the
	// per-connection minimum interval.
	ErrRateLimited = errors.New("sending too fast")

	// ErrInvalidReaction is returned on malformed reaction input.
	ErrInvalidReaction = errors.New("invalid reaction")

	// ErrInvalidStatus is returned when a status update names an unknown
	// status.
	ErrInvalidStatus = errors.New("invalid status")
)

// ErrorCode returns the machine-readable code for an error, reported to
// the originating connection on the error event.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidName):
		return "invalid-name"
	case errors.Is(err, ErrInvalidRole):
		return "invalid-role"
	case errors.Is(err, ErrDuplicateJoin):
		return "duplicate-join"
	case errors.Is(err, ErrUnknownParticipant):
		return "unknown-participant"
	case errors.Is(err, ErrInvalidLocation):
		return "invalid-location"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid-message"
	case errors.Is(err, ErrRateLimited):
		return "rate-limited"
	case errors.Is(err, ErrInvalidReaction):
		return "invalid-reaction"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid-status"
	}
	return "internal"
}
