// Package run implements the run command: the control core on simulated
// hardware together with its HTTP, metrics and MQTT surfaces.
package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/twsaudio/internal/api"
	"github.com/tphakala/twsaudio/internal/buildinfo"
	"github.com/tphakala/twsaudio/internal/conf"
	"github.com/tphakala/twsaudio/internal/controller"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/events"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/mqtt"
	"github.com/tphakala/twsaudio/internal/observability"
	"github.com/tphakala/twsaudio/internal/persist"
	"github.com/tphakala/twsaudio/internal/privacy"
	"github.com/tphakala/twsaudio/internal/simhw"
	"github.com/tphakala/twsaudio/internal/tones"
)

const (
	busShutdownTimeout = 2 * time.Second
	toneCacheTTL       = 10 * time.Minute
)

// flags override the loaded settings when set
type flags struct {
	listen    string
	noAPI     bool
	telemetry bool
	metricsOn string
	mqtt      bool
	statePath string
}

// Command creates the run command
func Command(settings *conf.Settings, bi *buildinfo.Context) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control core",
		Long: "Run the control core on simulated hardware and serve the HTTP control surface, " +
			"the Prometheus endpoint and the MQTT publisher as configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, f, settings)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, settings, bi)
		},
	}

	setupFlags(cmd, f)
	return cmd
}

func setupFlags(cmd *cobra.Command, f *flags) {
	cmd.Flags().StringVar(&f.listen, "listen", "", "Listen address of the HTTP control surface")
	cmd.Flags().BoolVar(&f.noAPI, "no-api", false, "Disable the HTTP control surface")
	cmd.Flags().BoolVar(&f.telemetry, "telemetry", false, "Enable the Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&f.metricsOn, "metrics-listen", "", "Listen address of the telemetry endpoint")
	cmd.Flags().BoolVar(&f.mqtt, "mqtt", false, "Enable the MQTT publisher")
	cmd.Flags().StringVar(&f.statePath, "state", "", "Path of the persisted ANC state")
}

func applyFlags(cmd *cobra.Command, f *flags, s *conf.Settings) {
	if cmd.Flags().Changed("listen") {
		s.API.Listen = f.listen
	}
	if f.noAPI {
		s.API.Enabled = false
	}
	if cmd.Flags().Changed("telemetry") {
		s.Telemetry.Enabled = f.telemetry
	}
	if cmd.Flags().Changed("metrics-listen") {
		s.Telemetry.Listen = f.metricsOn
	}
	if cmd.Flags().Changed("mqtt") {
		s.MQTT.Enabled = f.mqtt
	}
	if cmd.Flags().Changed("state") {
		s.Persist.Path = f.statePath
	}
}

// Run wires every component and blocks until ctx is cancelled or one of
// the services fails
func Run(ctx context.Context, settings *conf.Settings, bi *buildinfo.Context) error {
	log := logger.Global().Module("run")
	bi = bi.WithSystemID(buildinfo.DeviceSystemID(settings.Main.Name, settings.Main.Side))
	log.Info("starting twsaudio", append(bi.Fields(),
		logger.String("node", settings.Main.Name),
		logger.String("side", settings.Main.Side))...)

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	flushSentry := initSentry(settings, bi, log)
	defer flushSentry()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	bus := events.New(events.DefaultConfig(), log)
	publisher := events.NewPublisher(bus, events.NewDeduplicator(events.DefaultDeduplicationConfig()), nil)
	errors.SetEventPublisher(publisher)
	defer errors.ClearErrorHooks()
	if err := metrics.RegisterEventBus(bus.GetStats); err != nil {
		return err
	}
	defer func() {
		if err := bus.Shutdown(busShutdownTimeout); err != nil {
			log.Warn("event bus shutdown incomplete", logger.Error(err))
		}
	}()

	store, err := persist.Open(settings.Persist.Backend, settings.Persist.Path, settings.PersistDefaults(), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close ANC store", logger.Error(err))
		}
	}()

	library := tones.NewLibrary(settings.Audio.ToneDir, toneCacheTTL, log)
	hw := simhw.New()

	ctrl, err := controller.New(controller.ConfigFromSettings(settings), controller.Deps{
		Hardware: controller.Simulated(hw),
		Store:    store,
		Notifier: publisher,
		Metrics:  metrics,
	}, log)
	if err != nil {
		return err
	}

	completer := newToneCompleter(library, ctrl, log)
	hw.Graphs.OnTone(completer.Cue)
	defer completer.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })

	if settings.API.Enabled {
		opts := []api.ServerOption{
			api.WithLogger(log),
			api.WithTones(library),
			api.WithEventBusStats(bus.GetStats),
		}
		if settings.Telemetry.Enabled {
			opts = append(opts, api.WithMetrics(metrics.Handler()))
		}
		srv, err := api.New(api.ConfigFromSettings(settings), ctrl, opts...)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	if settings.Telemetry.Enabled {
		endpoint := observability.NewEndpoint(settings.Telemetry.Listen, metrics, log)
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	if settings.MQTT.Enabled {
		cfg := settings.MQTTConfig()
		client := mqtt.NewClient(cfg, metrics.MQTT, log)
		mqttPub := mqtt.NewPublisher(client, cfg, log)
		if err := bus.RegisterConsumer(mqttPub); err != nil {
			return err
		}
		g.Go(func() error {
			return runMQTT(gctx, client, mqttPub, settings, bi, log)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service failed", logger.Error(err))
		return err
	}
	log.Info("twsaudio stopped")
	return nil
}

// runMQTT connects, announces and keeps the session until ctx is done.
// A failed connect is logged and retried; it never stops the device.
func runMQTT(ctx context.Context, client mqtt.Client, pub *mqtt.Publisher, settings *conf.Settings, bi *buildinfo.Context, log logger.Logger) error {
	cfg := settings.MQTTConfig()
	for {
		err := client.Connect(ctx)
		if err == nil {
			break
		}
		log.Warn("MQTT connect failed",
			logger.Error(privacy.WrapError(err)),
			logger.String("broker", privacy.SanitizeBrokerURL(cfg.Broker)))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.ReconnectCooldown):
		}
	}
	defer client.Disconnect()

	if err := pub.Announce(ctx, true); err != nil {
		log.Warn("MQTT announce failed", logger.Error(err))
	}
	if settings.MQTT.Discovery {
		if err := pub.PublishDiscovery(ctx, settings.MQTT.DiscoveryPrefix, settings.Main.Name, bi.Version()); err != nil {
			log.Warn("MQTT discovery failed", logger.Error(err))
		}
	}

	<-ctx.Done()
	offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.PublishTimeout)
	defer cancel()
	if err := pub.Announce(offCtx, false); err != nil {
		log.Debug("MQTT offline announce failed", logger.Error(err))
	}
	return nil
}
