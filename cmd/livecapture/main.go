// Command livecapture records the screen and, when available, the webcam
// into object storage until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Niskarsh/livecapture"
	"github.com/Niskarsh/livecapture/capture"
	"github.com/Niskarsh/livecapture/config"
	"github.com/Niskarsh/livecapture/events"
	"github.com/Niskarsh/livecapture/metrics"
	"github.com/Niskarsh/livecapture/preview"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func serveMetrics(addr string) {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           m,
		ReadHeaderTimeout: 5 * time.Second,
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("failed to listen for metrics")
		return
	}
	if err := srv.Serve(lis); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

func provider(source, screen, webcam string, logger *zerolog.Logger) (capture.Provider, error) {
	switch source {
	case "file":
		return capture.NewFileProvider(screen, webcam), nil
	case "ffmpeg":
		inputs := make(map[capture.Kind][]string)
		if screen != "" {
			inputs[capture.Screen] = strings.Fields(screen)
		}
		if webcam != "" {
			inputs[capture.Webcam] = strings.Fields(webcam)
		}
		return capture.FFmpegProvider{Inputs: inputs, Logger: logger}, nil
	}
	return nil, fmt.Errorf("unknown source %q, expected file or ffmpeg", source)
}

func notifier(ctx context.Context, cfg *config.Config) (events.Notifier, func()) {
	notifiers := []events.Notifier{events.LogNotifier{Logger: log.Logger}}
	var closers []func()
	if len(cfg.Events.KafkaBrokers) > 0 {
		kafkaNotifier, err := events.NewKafkaNotifier(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka notifier")
		}
		notifiers = append(notifiers, kafkaNotifier)
		closers = append(closers, func() {
			if err := kafkaNotifier.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close kafka writer")
			}
		})
		log.Info().Strs("brokers", cfg.Events.KafkaBrokers).Str("topic", cfg.Events.KafkaTopic).Msg("publishing session events")
	}
	if cfg.Events.DatabaseURL != "" {
		catalog, err := events.OpenCatalog(ctx, cfg.Events.DatabaseURL, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open session catalog")
		}
		notifiers = append(notifiers, catalog)
		closers = append(closers, catalog.Close)
	}
	return events.Multi(notifiers...), func() {
		for _, closer := range closers {
			closer()
		}
	}
}

// allDone is closed once every session has finished uploading.
func allDone(sessions []*livecapture.Session) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, session := range sessions {
			<-session.Done()
		}
	}()
	return done
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	source := flag.String("source", "file", "Where to capture from: file or ffmpeg")
	screen := flag.String("screen", "", "Screen recording file, or ffmpeg input arguments")
	webcam := flag.String("webcam", "", "Webcam recording file, or ffmpeg input arguments")
	duration := flag.Duration("duration", 0, "Stop after this long (0 records until interrupted)")
	metricsAddr := flag.String("metrics-addr", ":8012", "The address to serve prometheus metrics on (empty disables)")
	envFile := flag.String("env", "", "An env file to read settings from (default .env)")
	debug := flag.Bool("debug", false, "Log at debug level")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}
	collectors, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register metrics")
	}

	dest, err := cfg.Destination(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("backend", string(cfg.Backend)).Msg("failed to connect to storage")
	}
	devices, err := provider(*source, *screen, *webcam, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid capture source")
	}
	notify, closeNotifiers := notifier(ctx, cfg)
	defer closeNotifiers()

	ctrl, err := livecapture.NewController(livecapture.Options{
		Provider:    devices,
		Encoders:    capture.ReaderEncoderFactory{Options: capture.ReaderEncoderOptions{Logger: &log.Logger}},
		Destination: dest,
		Interval:    cfg.Pipeline.RecorderInterval,
		ChunkSize:   uint(cfg.Pipeline.ChunkSize),
		Upload:      cfg.UploadOptions(),
		StopTimeout: cfg.Pipeline.StopTimeout,
		Logger:      &log.Logger,
		Notifier:    notify,
		Surface:     preview.NewLogSurface(log.Logger),
		Metrics:     collectors,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create controller")
	}

	started, err := ctrl.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start recording")
	}
	for _, session := range started.Sessions {
		log.Info().Str("kind", string(session.Kind)).Str("key", session.Key).Str("mime", session.MimeType).Msg("recording")
	}
	for _, notice := range started.Notices {
		fmt.Fprintln(os.Stderr, "notice:", notice)
	}

	var timeout <-chan time.Time
	if *duration > 0 {
		timer := time.NewTimer(*duration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		log.Info().Msg("interrupted, stopping")
	case <-timeout:
		log.Info().Dur("duration", *duration).Msg("duration reached, stopping")
	case <-allDone(ctrl.Sessions()):
		log.Info().Msg("every source ended, stopping")
	}

	// A second interrupt abandons the uploads.
	stopCtx, stopCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopCancel()
	stopped, err := ctrl.Stop(stopCtx)
	for _, result := range stopped.Results {
		if result.Err != nil {
			fmt.Printf("%s\tfailed\t%s\t%s\n", result.Kind, result.Key, result.Err)
			continue
		}
		fmt.Printf("%s\t%d bytes\t%d parts\t%s\n", result.Kind, result.Bytes, result.Parts, result.Location)
	}
	if err != nil {
		closeNotifiers()
		log.Error().Err(err).Msg("recording finished with errors")
		os.Exit(1)
	}
}
