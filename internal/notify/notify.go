// Package notify bridges completed attendances to the certificate
// worker. Publishing is fire-and-forget: a failure here is the caller's
// to log, never to propagate as a check-out failure.
package notify

import (
	"context"
	"encoding/json"
	"log"

	"eventpoints/internal/attendance"
	"eventpoints/internal/queue"
)

// QueuePublisher pushes completed attendances onto the work queue for
// the certificate worker.
type QueuePublisher struct {
	q queue.Queue
}

// NewQueuePublisher wraps a queue backend.
func NewQueuePublisher(q queue.Queue) *QueuePublisher {
	return &QueuePublisher{q: q}
}

var _ attendance.Notifier = (*QueuePublisher)(nil)

// AttendanceCompleted enqueues the closed record for certificate dispatch.
func (p *QueuePublisher) AttendanceCompleted(ctx context.Context, rec attendance.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.q.Publish(ctx, queue.Message{Type: queue.MsgAttendanceCompleted, Body: body})
}

// LogNotifier is the dev fallback when no queue is configured.
type LogNotifier struct{}

var _ attendance.Notifier = LogNotifier{}

// AttendanceCompleted logs the completion instead of dispatching it.
func (LogNotifier) AttendanceCompleted(_ context.Context, rec attendance.Record) error {
	log.Printf("attendance completed: participant=%s session=%s dwell=%dmin credited=%v",
		rec.ParticipantID, rec.SessionID, rec.DwellMin, rec.PointsCredited)
	return nil
}

// DecodeRecord unmarshals a queued completion message body.
func DecodeRecord(body []byte) (attendance.Record, error) {
	var rec attendance.Record
	err := json.Unmarshal(body, &rec)
	return rec, err
}
