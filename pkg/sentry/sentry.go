package sentry

import (
	"fmt"
	"time"

	sentrygo "github.com/getsentry/sentry-go"

	"github.com/camride/dispatch/pkg/config"
)

// Init initializes the Sentry SDK. Returns an error when no DSN is configured.
func Init(cfg *config.SentryConfig, environment, release string) error {
	if cfg.DSN == "" {
		return fmt.Errorf("sentry DSN is not configured")
	}

	err := sentrygo.Init(sentrygo.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend: func(event *sentrygo.Event, hint *sentrygo.EventHint) *sentrygo.Event {
			// Validation noise does not belong in the error tracker.
			if event.Level == sentrygo.LevelInfo || event.Level == sentrygo.LevelDebug {
				return nil
			}
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return nil
}

// CaptureError reports an unexpected error to Sentry.
func CaptureError(err error) {
	if err == nil {
		return
	}
	sentrygo.CaptureException(err)
}

// Flush flushes the Sentry buffer.
func Flush(timeout time.Duration) bool {
	return sentrygo.Flush(timeout)
}
