package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/Amund211/marketcache/internal/config"
	"github.com/Amund211/marketcache/internal/logging"
	"github.com/getsentry/sentry-go"
)

var numericIDRx = regexp.MustCompile(`/[0-9]+(/|\?|"|$)`)
var uuidRx = regexp.MustCompile(`[0-9a-f]{8}-?([0-9a-f]{4}-?){3}[0-9a-f]{12}`)
var hostRx = regexp.MustCompile(`\[:{0,2}([0-9a-f]{0,4}:?){1,8}\]:\d+`)

func sanitizeError(err string) string {
	err = uuidRx.ReplaceAllString(err, "<uuid>")
	err = hostRx.ReplaceAllString(err, "<host>")
	err = numericIDRx.ReplaceAllString(err, "/<id>$1")
	return err
}

func Report(ctx context.Context, err error, extras ...map[string]string) {
	hub := sentry.GetHubFromContext(ctx)
	logger := logging.FromContext(ctx)
	if hub == nil {
		logger.WarnContext(ctx, "Failed to get Sentry hub from context", "error", err, "extras", extras)
		return
	}

	if err == nil {
		err = errors.New("No error provided")
	}

	logger.ErrorContext(
		ctx,
		"Reporting error to Sentry",
		slog.String("error", err.Error()),
		slog.Any("extras", extras),
	)

	hub.WithScope(func(scope *sentry.Scope) {
		meta := MetaFromContext(ctx)
		scope.SetTags(meta.tags)
		for key, value := range meta.extras {
			scope.SetExtra(key, value)
		}
		if meta.userID != "" {
			scope.SetUser(sentry.User{
				ID: meta.userID,
			})
		}

		for _, extra := range extras {
			for key, value := range extra {
				scope.SetExtra(key, value)
			}
		}

		scope.SetFingerprint([]string{"{{ default }}", sanitizeError(err.Error())})
		hub.CaptureException(err)
	})
}

// AddHubToContext gives ctx its own hub cloned from the current one, so scopes
// set while reporting do not leak between operations.
func AddHubToContext(ctx context.Context) context.Context {
	return sentry.SetHubOnContext(ctx, sentry.CurrentHub().Clone())
}

func InitSentry(sentryDSN string, environment string) (func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              sentryDSN,
		Environment:      environment,
		EnableTracing:    true,
		TracesSampleRate: 1.0 / 100.0,
	})
	if err != nil {
		return nil, err
	}

	flush := func() {
		sentry.Flush(5 * time.Second)
	}

	return flush, nil
}

func NewSentryOrMock(config config.Config) (func(), error) {
	if config.SentryDSN() != "" {
		return InitSentry(config.SentryDSN(), config.EnvironmentName())
	}

	if config.IsDevelopment() {
		return func() {}, nil
	}

	return nil, fmt.Errorf("Missing Sentry DSN in non-development environment")
}
