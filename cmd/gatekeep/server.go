package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v3"
	slogecho "github.com/samber/slog-echo"
	"gorm.io/gorm"

	"github.com/nightcrew/gatekeep/curation"
	"github.com/nightcrew/gatekeep/curation/dedupe"
	"github.com/nightcrew/gatekeep/curation/mediagroup"
	"github.com/nightcrew/gatekeep/curation/queue"
	"github.com/nightcrew/gatekeep/notify"
	"github.com/nightcrew/gatekeep/poststore"
	"github.com/nightcrew/gatekeep/transport"
)

type Server struct {
	logger   *slog.Logger
	store    *poststore.Store
	bot      *transport.BotClient
	engine   *curation.Engine
	agg      *mediagroup.Aggregator
	sessions *queue.Sessions

	// finalized media groups waiting for the submitter to confirm or cancel
	pendingGroups *xsync.MapOf[string, []mediagroup.Item]

	echo  *echo.Echo
	httpd *http.Server

	deleteOnCancel bool
}

type Config struct {
	Logger             *slog.Logger
	APIBase            string
	BotToken           string
	RedisURL           string
	Bind               string
	PublishChannel     int64
	RejectedChannel    int64
	ReviewGroup        int64
	ApproveThreshold   int
	RejectThreshold    int
	RejectionReasons   []string
	RetractNotify      bool
	DeleteOnCancel     bool
	MediaGroupWindow   time.Duration
	TransportRateLimit int
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	if config.ApproveThreshold < 1 || config.RejectThreshold < 1 {
		return nil, fmt.Errorf("vote thresholds must be at least 1")
	}

	store, err := poststore.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("initializing post store: %w", err)
	}

	bot := transport.NewBotClient(config.APIBase, config.BotToken, config.TransportRateLimit)

	var guard dedupe.Guard
	if config.RedisURL != "" {
		g, err := dedupe.NewRedisGuard(config.RedisURL, 30*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("initializing redis dedupe guard: %w", err)
		}
		guard = g
	} else {
		guard = dedupe.NewMemGuard(5_000, 30*time.Minute)
	}

	notifier := &notify.Dispatcher{
		Logger:          logger,
		Transport:       bot,
		PublishChannel:  config.PublishChannel,
		RejectedChannel: config.RejectedChannel,
		RetractNotify:   config.RetractNotify,
	}

	engine := &curation.Engine{
		Logger:    logger,
		Store:     store,
		Transport: bot,
		Notifier:  notifier,
		Dedupe:    guard,
		Config: curation.Config{
			ApproveThreshold: config.ApproveThreshold,
			RejectThreshold:  config.RejectThreshold,
			RejectionReasons: config.RejectionReasons,
			PublishChannel:   config.PublishChannel,
			RejectedChannel:  config.RejectedChannel,
			ReviewGroup:      config.ReviewGroup,
			RetractNotify:    config.RetractNotify,
		},
	}

	s := &Server{
		logger:         logger,
		store:          store,
		bot:            bot,
		engine:         engine,
		sessions:       queue.NewSessions(store, queue.DefaultPageSize),
		pendingGroups:  xsync.NewMapOf[string, []mediagroup.Item](),
		deleteOnCancel: config.DeleteOnCancel,
	}

	window := config.MediaGroupWindow
	if window <= 0 {
		window = time.Second
	}
	s.agg = mediagroup.NewAggregator(logger, window, s.groupFinalized)

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("4M"))
	e.Use(echoprometheus.NewMiddleware("gatekeep"))

	e.GET("/_health", s.HandleHealthCheck)
	e.POST("/webhook", s.HandleWebhook)

	s.echo = e
	s.httpd = &http.Server{
		Handler:        e,
		Addr:           config.Bind,
		ReadTimeout:    time.Minute,
		WriteTimeout:   time.Minute,
		MaxHeaderBytes: 1 * (1024 * 1024),
	}

	return s, nil
}

// groupFinalized runs when the debounce window on a media group elapses. The
// assembled items are parked until the submitter confirms or cancels.
func (s *Server) groupFinalized(groupID string, items []mediagroup.Item) {
	if len(items) == 0 {
		return
	}
	s.pendingGroups.Store(groupID, items)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := s.bot.SendMessage(ctx, items[0].From, confirmPrompt, &transport.SendOpts{
		Keyboard: curation.ConfirmKeyboard(),
		ReplyTo:  items[0].MessageID,
	})
	if err != nil {
		s.logger.Error("failed to send confirmation prompt", "group", groupID, "err", err)
		s.pendingGroups.Delete(groupID)
	}
}

func (s *Server) Run(ctx context.Context) error {
	me, err := s.bot.Identify(ctx)
	if err != nil {
		return fmt.Errorf("verifying bot credentials: %w", err)
	}
	s.logger.Info("bot identity verified", "id", me.ID, "username", me.Username)

	s.logger.Info("starting server", "bind", s.httpd.Addr)
	go func() {
		if err := s.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		s.logger.Info("received OS exit signal", "signal", sig)
		if err := s.Shutdown(); err != nil {
			s.logger.Error("HTTP server shutdown error", "err", err)
		}
		close(quit)
	}()
	<-quit
	s.logger.Info("graceful shutdown complete")
	return nil
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (s *Server) Shutdown() error {
	s.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpd.Shutdown(ctx)
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
