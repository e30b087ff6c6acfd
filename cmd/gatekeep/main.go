package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/nightcrew/gatekeep/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "gatekeep",
		Usage:   "submission review daemon (channel gatekeeper)",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "api-base",
			Usage:   "base URL of the bot HTTP API, token is appended",
			Value:   "https://api.telegram.org/bot",
			EnvVars: []string{"GATEKEEP_API_BASE"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/gatekeep/gatekeep.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:     "bot-token",
			Usage:    "bot API token",
			Required: true,
			EnvVars:  []string{"GATEKEEP_BOT_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL; enables the shared duplicate-action guard",
			EnvVars: []string{"GATEKEEP_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the webhook",
			Value:   ":3999",
			EnvVars: []string{"GATEKEEP_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"GATEKEEP_METRICS_LISTEN"},
		},
		&cli.Int64Flag{
			Name:     "publish-channel",
			Usage:    "chat id of the channel approved posts are published to",
			Required: true,
			EnvVars:  []string{"GATEKEEP_PUBLISH_CHANNEL"},
		},
		&cli.Int64Flag{
			Name:    "rejected-channel",
			Usage:   "chat id of the rejected-post archive channel",
			EnvVars: []string{"GATEKEEP_REJECTED_CHANNEL"},
		},
		&cli.Int64Flag{
			Name:     "review-group",
			Usage:    "chat id of the reviewer group",
			Required: true,
			EnvVars:  []string{"GATEKEEP_REVIEW_GROUP"},
		},
		&cli.IntFlag{
			Name:    "approve-threshold",
			Usage:   "votes needed to approve a post",
			Value:   2,
			EnvVars: []string{"GATEKEEP_APPROVE_THRESHOLD"},
		},
		&cli.IntFlag{
			Name:    "reject-threshold",
			Usage:   "votes needed to reject a post",
			Value:   2,
			EnvVars: []string{"GATEKEEP_REJECT_THRESHOLD"},
		},
		&cli.StringSliceFlag{
			Name:    "rejection-reason",
			Usage:   "preset rejection reason offered to reviewers (repeatable)",
			EnvVars: []string{"GATEKEEP_REJECTION_REASONS"},
		},
		&cli.BoolFlag{
			Name:    "retract-notify",
			Usage:   "tell submitters when their post is rejected",
			Value:   true,
			EnvVars: []string{"GATEKEEP_RETRACT_NOTIFY"},
		},
		&cli.BoolFlag{
			Name:    "delete-on-cancel",
			Usage:   "also delete the submitter's original messages when they cancel",
			EnvVars: []string{"GATEKEEP_DELETE_ON_CANCEL"},
		},
		&cli.DurationFlag{
			Name:    "media-group-window",
			Usage:   "debounce window for collecting multi-attachment submissions",
			Value:   time.Second,
			EnvVars: []string{"GATEKEEP_MEDIA_GROUP_WINDOW"},
		},
		&cli.IntFlag{
			Name:    "transport-rate-limit",
			Usage:   "max outbound bot API requests per second",
			Value:   25,
			EnvVars: []string{"GATEKEEP_TRANSPORT_RATE_LIMIT"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		// Enable OTLP HTTP exporter
		// For relevant environment variables:
		// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
		// At a minimum, you need to set
		// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
		if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
			slog.Info("setting up trace exporter", "endpoint", ep)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			exp, err := otlptracehttp.New(ctx)
			if err != nil {
				log.Fatal("failed to create trace exporter", "error", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := exp.Shutdown(ctx); err != nil {
					slog.Error("failed to shutdown trace exporter", "error", err)
				}
			}()

			tp := tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp),
				tracesdk.WithResource(resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceNameKey.String("gatekeep"),
					attribute.String("env", os.Getenv("ENVIRONMENT")),         // DataDog
					attribute.String("environment", os.Getenv("ENVIRONMENT")), // Others
					attribute.Int64("ID", 1),
				)),
			)
			otel.SetTracerProvider(tp)
		}

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}

		srv, err := NewServer(
			db,
			Config{
				Logger:             logger,
				APIBase:            cctx.String("api-base"),
				BotToken:           cctx.String("bot-token"),
				RedisURL:           cctx.String("redis-url"),
				Bind:               cctx.String("bind"),
				PublishChannel:     cctx.Int64("publish-channel"),
				RejectedChannel:    cctx.Int64("rejected-channel"),
				ReviewGroup:        cctx.Int64("review-group"),
				ApproveThreshold:   cctx.Int("approve-threshold"),
				RejectThreshold:    cctx.Int("reject-threshold"),
				RejectionReasons:   cctx.StringSlice("rejection-reason"),
				RetractNotify:      cctx.Bool("retract-notify"),
				DeleteOnCancel:     cctx.Bool("delete-on-cancel"),
				MediaGroupWindow:   cctx.Duration("media-group-window"),
				TransportRateLimit: cctx.Int("transport-rate-limit"),
			},
		)
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run review service: %w", err)
		}
		return nil
	},
}
