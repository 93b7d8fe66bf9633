package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventpoints/internal/attendance"
	"eventpoints/internal/auth"
	"eventpoints/internal/config"
	"eventpoints/internal/geo"
	"eventpoints/internal/httpmiddleware"
	"eventpoints/internal/metrics"
	"eventpoints/internal/notify"
	"eventpoints/internal/queue"
	"eventpoints/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	var (
		sessions     attendance.SessionRepository
		records      attendance.AttendanceRepository
		participants attendance.ParticipantRepository
		ledger       attendance.PointLedgerRepository
	)

	var db *store.DB
	if cfg.Backend == "memory" {
		mem := attendance.NewMemoryStore()
		sessions, records, participants, ledger = mem, mem, mem, mem
		log.Println("using in-memory store")
	} else {
		if err := store.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			log.Printf("warning: migrations failed: %v", err)
		}
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		pg := attendance.NewPostgresStore(db.Client)
		sessions, records, participants, ledger = pg, pg, pg, pg
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "eventpoints:completions")
	}

	svc := attendance.NewService(sessions, records, participants, ledger,
		notify.NewQueuePublisher(q), attendance.Config{
			CheckInTolerance:  cfg.CheckInTolerance,
			CheckOutTolerance: cfg.CheckOutTolerance,
			EligibleFraction:  cfg.EligibleFraction,
			QRBaseURL:         cfg.PublicBaseURL,
		})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := cfg.Backend == "memory" || db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.GET("/v1/public/overview", func(c *gin.Context) {
		overview, err := svc.PublicOverview(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "overview unavailable"})
			return
		}
		c.JSON(http.StatusOK, overview)
	})

	r.POST("/v1/participants/register", func(c *gin.Context) {
		var req struct {
			Name  string `json:"name" binding:"required"`
			Email string `json:"email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		p, err := svc.RegisterParticipant(c.Request.Context(), attendance.Participant{
			Name:  req.Name,
			Email: req.Email,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		tokens, err := auth.Issue(p.ID, auth.RoleParticipant, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"participant":   p,
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authed := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))

	authed.POST("/checkins", attemptHandler(svc.CheckIn, metrics.CheckIns.Inc))
	authed.POST("/checkouts", attemptHandler(svc.CheckOut, metrics.CheckOuts.Inc))

	authed.GET("/attendance/status", func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		sessionID := c.Query("session_id")
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
			return
		}
		rec, err := svc.Status(c.Request.Context(), claims.Subject, sessionID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"checked_in": rec != nil, "record": rec})
	})

	authed.GET("/participants/me", func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		p, err := svc.GetParticipant(c.Request.Context(), claims.Subject)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	authed.GET("/sessions", func(c *gin.Context) {
		list, err := svc.ListSessions(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	})

	authed.GET("/sessions/:id", func(c *gin.Context) {
		s, err := svc.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	})

	staff := authed.Group("", auth.RequireRole(auth.RoleStaff))

	staff.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Title       string               `json:"title" binding:"required"`
			Description string               `json:"description"`
			Speaker     string               `json:"speaker"`
			Venue       string               `json:"venue"`
			Kind        string               `json:"kind"`
			StartsAt    time.Time            `json:"starts_at" binding:"required"`
			DurationMin int                  `json:"duration_min" binding:"required"`
			Geofence    *attendance.Geofence `json:"geofence"`
			Points      float64              `json:"points"`
			Capacity    int                  `json:"capacity"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s, err := svc.CreateSession(c.Request.Context(), attendance.Session{
			Title:       req.Title,
			Description: req.Description,
			Speaker:     req.Speaker,
			Venue:       req.Venue,
			Kind:        attendance.SessionKind(req.Kind),
			StartsAt:    req.StartsAt,
			DurationMin: req.DurationMin,
			Geofence:    req.Geofence,
			Points:      req.Points,
			Capacity:    req.Capacity,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, s)
	})

	transition := func(op func(context.Context, string) (attendance.Session, error)) gin.HandlerFunc {
		return func(c *gin.Context) {
			s, err := op(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, s)
		}
	}
	staff.POST("/sessions/:id/start", transition(svc.StartSession))
	staff.POST("/sessions/:id/finish", transition(svc.FinishSession))
	staff.POST("/sessions/:id/cancel", transition(svc.CancelSession))

	staff.GET("/sessions/:id/present", func(c *gin.Context) {
		recs, err := svc.Present(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"total": len(recs), "present": recs})
	})

	staff.POST("/points/volunteer", func(c *gin.Context) {
		var req struct {
			ParticipantID string  `json:"participant_id" binding:"required"`
			Value         float64 `json:"value"`
			Reason        string  `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := svc.CreditVolunteer(c.Request.Context(), req.ParticipantID, req.Value, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		metrics.PointsCredited.Add(result.Entry.Value)
		c.JSON(http.StatusOK, result)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

type attemptOp func(ctx context.Context, participantID, sessionID string, a attendance.Attempt) (attendance.Record, error)

// attemptHandler binds the shared check-in/check-out request shape and
// routes it through the given state machine operation.
func attemptHandler(op attemptOp, onSuccess func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			SessionID string   `json:"session_id" binding:"required"`
			Mode      string   `json:"mode" binding:"required"`
			Lat       *float64 `json:"lat"`
			Lng       *float64 `json:"lng"`
			Token     string   `json:"token"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims, _ := auth.ClaimsFrom(c)
		attempt := attendance.Attempt{Mode: attendance.Mode(req.Mode), Token: req.Token}
		if req.Lat != nil && req.Lng != nil {
			attempt.Location = &geo.Point{Lat: *req.Lat, Lng: *req.Lng}
		}

		rec, err := op(c.Request.Context(), claims.Subject, req.SessionID, attempt)
		if err != nil {
			respondError(c, err)
			return
		}
		if onSuccess != nil {
			onSuccess()
		}
		if rec.PointsCredited {
			metrics.PointsCredited.Add(rec.PointsApplied)
		}
		c.JSON(http.StatusOK, rec)
	}
}

// respondError maps business rejections onto HTTP statuses; anything
// else is a 500.
func respondError(c *gin.Context, err error) {
	kind := attendance.RejectionKind(err)
	if kind == "" {
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	metrics.Rejections.WithLabelValues(string(kind)).Inc()

	status := http.StatusBadRequest
	switch kind {
	case attendance.RejectSessionNotFound, attendance.RejectParticipantNotFound:
		status = http.StatusNotFound
	case attendance.RejectAlreadyCheckedIn, attendance.RejectNoOpenEntry,
		attendance.RejectSessionCancelled, attendance.RejectInvalidTransition:
		status = http.StatusConflict
	case attendance.RejectOutOfPerimeter:
		status = http.StatusForbidden
	case attendance.RejectOutOfWindow:
		status = http.StatusUnprocessableEntity
	}

	body := gin.H{"error": err.Error(), "kind": kind}
	var rej *attendance.Rejection
	if errors.As(err, &rej) && rej.Window != nil {
		body["window"] = rej.Window
	}
	c.JSON(status, body)
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
