package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"eventpoints/internal/attendance"
	"eventpoints/internal/config"
	"eventpoints/internal/metrics"
	"eventpoints/internal/notify"
	"eventpoints/internal/queue"
	"eventpoints/internal/store"
)

// Worker consumes completed-attendance messages and dispatches the
// certificate for each one. Delivery failures stay on this side of the
// boundary; the check-out that produced the message has long returned.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	var records attendance.AttendanceRepository
	var participants attendance.ParticipantRepository
	if cfg.Backend == "memory" {
		mem := attendance.NewMemoryStore()
		records, participants = mem, mem
	} else {
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer db.Close()
		pg := attendance.NewPostgresStore(db.Client)
		records, participants = pg, pg
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "eventpoints:completions")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for completed attendances...")
	for msg := range messages {
		if msg.Type != queue.MsgAttendanceCompleted {
			continue
		}
		dispatched, err := processCompletion(ctx, msg, records, participants)
		if err != nil {
			log.Printf("completion message dropped: %v", err)
			continue
		}
		if dispatched {
			metrics.CertificatesSent.Inc()
		}
	}

	log.Println("worker stopped")
}

// processCompletion dispatches the certificate for one completed
// attendance. The queued payload is only a pointer; the record is
// re-read from the store so that a redelivered message for an already
// handled attendance is a no-op.
func processCompletion(ctx context.Context, msg queue.Message, records attendance.AttendanceRepository, participants attendance.ParticipantRepository) (bool, error) {
	queued, err := notify.DecodeRecord(msg.Body)
	if err != nil {
		return false, fmt.Errorf("bad completion message: %w", err)
	}

	rec, err := records.GetRecord(ctx, queued.ID)
	if err != nil {
		return false, fmt.Errorf("record %s lookup failed: %w", queued.ID, err)
	}
	if rec.CertificateSent {
		return false, nil
	}

	p, err := participants.GetParticipant(ctx, rec.ParticipantID)
	if err != nil {
		return false, fmt.Errorf("participant %s lookup failed: %w", rec.ParticipantID, err)
	}

	// Certificate rendering/email delivery is behind this log line;
	// the program treats dispatch as done once the record is marked.
	log.Printf("dispatching certificate: participant=%s (%s) session=%s dwell=%dmin points=%.2f",
		p.Name, p.Email, rec.SessionID, rec.DwellMin, rec.PointsApplied)

	if err := records.MarkCertificateSent(ctx, rec.ID); err != nil {
		return false, fmt.Errorf("mark certificate sent failed for record %s: %w", rec.ID, err)
	}
	return true, nil
}
