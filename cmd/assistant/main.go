package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/comigor/citizen-assistant/internal/a11y"
	"github.com/comigor/citizen-assistant/internal/assistant"
	"github.com/comigor/citizen-assistant/internal/config"
	"github.com/comigor/citizen-assistant/internal/diagnostics"
	"github.com/comigor/citizen-assistant/internal/logger"
	"github.com/comigor/citizen-assistant/internal/telemetry"
	"github.com/comigor/citizen-assistant/internal/widget"
)

const help = "commands: /retry /clear /dismiss /reconnect /offline /render /help /quit"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}
	if err := run(); err != nil {
		logger.L.Error("assistant shell failed", "error", err)
		os.Exit(1)
	}
}

// run owns every deferred cleanup so main can exit non-zero after they ran.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	closer := logger.Init(cfg.Log)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, "assistant", cfg.Telemetry)
	if err != nil {
		logger.L.Warn("telemetry disabled", "error", err)
	} else {
		defer shutdownTelemetry(context.Background())
	}

	opts := []assistant.Option{
		assistant.WithIdentity(assistant.IdentityFunc(func() string { return os.Getenv("CITIZEN_USER_ID") })),
		assistant.WithObserver(assistant.ObserverFunc(func(t assistant.Transition) {
			fmt.Printf("  [%s -> %s]\n", t.From, t.To)
			if t.Reply != nil {
				fmt.Printf("assistant> %s\n", t.Reply.Content)
			}
		})),
	}
	if metrics, err := telemetry.NewMetrics(otel.Meter(telemetry.ScopeName)); err == nil {
		opts = append(opts, assistant.WithObserver(metrics))
	}
	if cfg.Diagnostics.Enabled {
		store := diagnostics.New(cfg.Diagnostics.DBPath)
		defer store.Close()
		opts = append(opts, assistant.WithDiagnostics(store))
	}

	w, err := widget.Mount(cfg, cfg.Assistant, func() (assistant.Transport, error) {
		return assistant.NewHTTPTransport(cfg.Assistant, &http.Client{})
	}, opts...)
	if err != nil {
		return fmt.Errorf("mount assistant: %w", err)
	}
	if w == nil {
		fmt.Println("The assistant is not available.")
		return nil
	}
	defer w.Unmount()

	w.Announcer.OnAnnounce(func(a a11y.Announcement) {
		fmt.Printf("  (%s) %s\n", a.Politeness, a.Text)
	})
	w.Open()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println(help)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, w, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, w *widget.Widget, line string) bool {
	c := w.Conversation
	var err error
	switch line {
	case "":
		return false
	case "/quit":
		return true
	case "/retry":
		err = c.RetryLastMessage(ctx)
	case "/clear":
		err = c.ClearMessages(ctx)
	case "/dismiss":
		err = c.ClearError(ctx)
	case "/reconnect":
		err = c.Reconnect(ctx)
	case "/offline":
		err = c.NotifyOffline(ctx)
	case "/render":
		fmt.Println(w.Render().HTML())
	case "/help":
		fmt.Println(help)
	default:
		err = c.SendMessage(ctx, line)
	}

	if err != nil {
		fmt.Printf("  ! %v\n", err)
	}
	if s := c.Snapshot(); s.Error != nil {
		fmt.Printf("  ! %s\n", s.Error.UserMessage())
	}
	return false
}
