package run

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/twsaudio/internal/buildinfo"
	"github.com/tphakala/twsaudio/internal/conf"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/privacy"
)

const sentryFlushTimeout = 2 * time.Second

// initSentry enables error telemetry when configured and returns the flush
// to run on exit. Failures only disable telemetry.
func initSentry(settings *conf.Settings, bi *buildinfo.Context, log logger.Logger) func() {
	noop := func() {}
	if !settings.Telemetry.Sentry.Enabled {
		return noop
	}
	if settings.Telemetry.Sentry.DSN == "" {
		log.Warn("sentry enabled without a DSN, error telemetry stays off")
		return noop
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Telemetry.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          bi.Release(),
		BeforeSend:       beforeSend(bi.SystemID()),
	})
	if err != nil {
		log.Warn("sentry initialization failed", logger.Error(err))
		return noop
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("error telemetry enabled", logger.String("system_id", bi.SystemID()))
	return func() { sentry.Flush(sentryFlushTimeout) }
}

// beforeSend strips host identity and scrubs messages; only the derived
// system id remains
func beforeSend(systemID string) func(*sentry.Event, *sentry.EventHint) *sentry.Event {
	return func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
		event.Message = privacy.ScrubMessage(event.Message)
		for i := range event.Exception {
			event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
		}
		event.ServerName = ""
		event.User = sentry.User{ID: systemID}
		event.Request = nil
		event.Modules = nil
		return event
	}
}
