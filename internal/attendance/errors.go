package attendance

import (
	"errors"
	"fmt"
)

// RejectKind classifies why a check-in, check-out or credit was refused.
type RejectKind string

const (
	RejectSessionNotFound     RejectKind = "session_not_found"
	RejectSessionCancelled    RejectKind = "session_cancelled"
	RejectOutOfWindow         RejectKind = "out_of_window"
	RejectInsufficientData    RejectKind = "insufficient_data"
	RejectLocationRequired    RejectKind = "location_required"
	RejectOutOfPerimeter      RejectKind = "out_of_perimeter"
	RejectInvalidToken        RejectKind = "invalid_token"
	RejectAlreadyCheckedIn    RejectKind = "already_checked_in"
	RejectNoOpenEntry         RejectKind = "no_open_entry"
	RejectInvalidValue        RejectKind = "invalid_value"
	RejectParticipantNotFound RejectKind = "participant_not_found"
	RejectInvalidTransition   RejectKind = "invalid_transition"
)

// Rejection is a business refusal returned as a value, never a panic.
// OutOfWindow rejections carry the permitted window so callers can show
// the user when attendance is possible.
type Rejection struct {
	Kind    RejectKind
	Message string
	Window  *Window
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

func reject(kind RejectKind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// RejectionKind extracts the kind from err, or "" when err is not a
// business rejection.
func RejectionKind(err error) RejectKind {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Kind
	}
	return ""
}

// IsRejection reports whether err is a business rejection of the given kind.
func IsRejection(err error, kind RejectKind) bool {
	return RejectionKind(err) == kind
}
