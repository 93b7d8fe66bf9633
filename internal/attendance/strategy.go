package attendance

import (
	"encoding/json"
	"strings"

	"eventpoints/internal/geo"
)

// Mode selects how an attendance attempt is validated.
type Mode string

const (
	ModeGPS Mode = "gps"
	ModeQR  Mode = "qr"
)

// Attempt carries the caller-supplied proof for a check-in or check-out.
type Attempt struct {
	Mode     Mode
	Location *geo.Point
	Token    string
}

// Strategy validates an attempt against a session. Implementations are
// pure predicates over the supplied data; a nil return means the attempt
// is acceptable.
type Strategy interface {
	Validate(s Session, a Attempt) error
}

// StrategyFor returns the validator for the given mode.
func StrategyFor(mode Mode) (Strategy, error) {
	switch mode {
	case ModeGPS:
		return gpsStrategy{}, nil
	case ModeQR:
		return qrStrategy{}, nil
	default:
		return nil, reject(RejectInsufficientData, "unknown attendance mode %q", mode)
	}
}

type gpsStrategy struct{}

func (gpsStrategy) Validate(s Session, a Attempt) error {
	if s.Geofence == nil || a.Location == nil {
		return reject(RejectInsufficientData, "gps validation needs a session venue and your coordinates")
	}
	if !geo.WithinPerimeter(*a.Location, s.Geofence.Center(), s.Geofence.RadiusM) {
		return reject(RejectOutOfPerimeter, "you are outside the session perimeter")
	}
	return nil
}

type qrStrategy struct{}

func (qrStrategy) Validate(s Session, a Attempt) error {
	if a.Token == "" {
		return reject(RejectInsufficientData, "qr validation needs a scanned token")
	}

	// A shared or photographed QR code must not grant attendance from
	// off-site: when the session has a real venue, location is mandatory
	// even in QR mode.
	if s.Geofence.Enforced() {
		if a.Location == nil {
			return reject(RejectLocationRequired, "location is required to validate this QR code")
		}
		if !geo.WithinPerimeter(*a.Location, s.Geofence.Center(), s.Geofence.RadiusM) {
			return reject(RejectOutOfPerimeter, "valid QR code, but you are outside the venue")
		}
	}

	if matchesSession(a.Token, s) {
		return nil
	}
	return reject(RejectInvalidToken, "qr code does not match this session")
}

// qrPayload is the structured form embedded in generated QR codes.
type qrPayload struct {
	SessionID string `json:"session_id"`
}

func matchesSession(token string, s Session) bool {
	if strings.Contains(token, s.ID) {
		return true
	}
	var payload qrPayload
	if err := json.Unmarshal([]byte(token), &payload); err == nil && payload.SessionID != "" {
		if payload.SessionID == s.ID {
			return true
		}
	}
	// last resort: the canonical token issued when the session was created
	return s.QRToken != "" && token == s.QRToken
}
