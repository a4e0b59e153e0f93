package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/justsurfingit/applicant-timeline/internal/auth"
	"github.com/justsurfingit/applicant-timeline/internal/config"
	"github.com/justsurfingit/applicant-timeline/internal/database"
	"github.com/justsurfingit/applicant-timeline/internal/guard"
	"github.com/justsurfingit/applicant-timeline/internal/handlers"
	"github.com/justsurfingit/applicant-timeline/internal/logging"
	"github.com/justsurfingit/applicant-timeline/internal/notify"
	"github.com/justsurfingit/applicant-timeline/internal/portal"
	"github.com/justsurfingit/applicant-timeline/internal/services"
	"github.com/justsurfingit/applicant-timeline/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Error loading config: %v", err)
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	// 2. Session and portal backend
	sessions, err := session.Open(cfg.Session.File)
	if err != nil {
		log.Fatalf("Error loading session: %v", err)
	}
	client := portal.NewClient(cfg.API.BaseURL, sessions, &http.Client{Timeout: cfg.API.Timeout})

	// 3. Database (optional: audit log and mail watcher)
	var db *gorm.DB
	var audit *services.AuditService
	if cfg.Database.DSN != "" {
		db, err = database.Connect(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		audit = services.NewAuditService(db)
		log.Info("✅ Database connected")
	}

	// 4. Submission guard, shared through Redis when configured
	var submitGuard guard.Guard = guard.NewMemoryGuard()
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		submitGuard = guard.NewRedisGuard(rdb, cfg.Redis.LockTTL, "applicant-stage")
		log.Info("✅ Redis submission guard enabled")
	}

	// 5. Stage change notifications
	var publisher notify.Publisher = notify.LogPublisher{Log: log.WithField("component", "notify")}
	if cfg.RabbitMQ.URL != "" {
		mq, err := notify.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer mq.Close()
		publisher = mq
		log.Infof("✅ Publishing stage changes to queue %s", cfg.RabbitMQ.Queue)
	}

	// 6. Core services
	timelineService := services.NewTimelineService(client, cfg.API.Timeout, log.WithField("component", "timeline"))
	var recorder services.EventRecorder
	if audit != nil {
		recorder = audit
	}
	stageService := services.NewStageService(client, timelineService, submitGuard, recorder, publisher, cfg.API.Timeout, log.WithField("component", "stage"))

	// 7. Recruiter mailbox watcher
	if cfg.Mail.Enabled {
		startMailWatcher(ctx, cfg, db, stageService, timelineService, sessions, log)
	}

	// 8. Handlers
	var events handlers.EventLister
	if audit != nil {
		events = audit
	}
	timelineHandler := handlers.NewTimelineHandler(timelineService, stageService, events, sessions)
	sessionHandler := handlers.NewSessionHandler(sessions)

	// 9. Router & CORS
	r := gin.Default()
	corsConfig := cors.DefaultConfig()
	if len(cfg.HTTP.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.HTTP.AllowedOrigins
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))

	// 10. Routes
	api := r.Group("/api/v1")
	{
		api.GET("/health", handlers.HealthCheck)

		api.GET("/session", sessionHandler.Current)
		sessionWrites := api.Group("/session")
		if !cfg.Session.AllowRemote {
			sessionWrites.Use(handlers.LoopbackOnly())
		}
		sessionWrites.POST("", sessionHandler.Login)
		sessionWrites.DELETE("", sessionHandler.Logout)

		api.GET("/jobs/applicants", timelineHandler.ListApplicants)
		api.GET("/jobs/:jobID/applications/:applicationID/timeline", timelineHandler.GetTimeline)
		api.POST("/jobs/:jobID/applicants/:applicantID/stage", timelineHandler.ChangeStage)

		api.GET("/events", timelineHandler.ListEvents)
	}

	srv := &http.Server{Addr: ":" + cfg.HTTP.Port, Handler: r}
	go func() {
		log.Infof("🚀 Server starting on port %s...", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
}

func startMailWatcher(ctx context.Context, cfg config.Config, db *gorm.DB, stages *services.StageService, timelines *services.TimelineService, sessions *session.Store, log *logrus.Logger) {
	llmService, err := services.NewLLMService(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		log.WithError(err).Error("⚠️ mail watcher disabled: classifier unavailable")
		return
	}

	log.Info("Initializing Gmail client...")
	httpClient, err := auth.GetGmailClient(ctx, cfg.Mail.CredentialsFile, cfg.Mail.TokenFile)
	if err != nil {
		log.WithError(err).Error("⚠️ mail watcher disabled: gmail authorization failed")
		return
	}
	gmailService, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		log.WithError(err).Error("⚠️ failed to create gmail service")
		return
	}
	log.Info("✅ Gmail service connected")

	emailService := services.NewEmailService(db, llmService, gmailService, services.NewMatcherService(),
		stages, timelines, sessions, cfg.Mail.Query, cfg.Mail.PollInterval, log.WithField("component", "mail"))
	emailService.StartWatcher(ctx)
}
