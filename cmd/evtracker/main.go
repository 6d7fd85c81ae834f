// Command evtracker runs the fleet state engine: it consumes the upstream
// vehicle feed, keeps live fleet state and serves it to map renderers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/srec-ev/tracker/internal/cache"
	"github.com/srec-ev/tracker/internal/config"
	"github.com/srec-ev/tracker/internal/dispatcher"
	"github.com/srec-ev/tracker/internal/engine"
	"github.com/srec-ev/tracker/internal/geo"
	"github.com/srec-ev/tracker/internal/influx"
	"github.com/srec-ev/tracker/internal/logging"
	"github.com/srec-ev/tracker/internal/monitor"
	"github.com/srec-ev/tracker/internal/notify"
	intOtel "github.com/srec-ev/tracker/internal/otel"
	"github.com/srec-ev/tracker/internal/scheduler"
	"github.com/srec-ev/tracker/internal/server"
	"github.com/srec-ev/tracker/internal/session"
	"github.com/srec-ev/tracker/internal/storage"
	"github.com/srec-ev/tracker/internal/transport"
	"github.com/srec-ev/tracker/internal/worker"
	"github.com/srec-ev/tracker/pkg/core"
)

// BuildDate and CurrentVersion can be set at build time via ldflags
var (
	CurrentVersion = "0.1.0"
	BuildDate      = "unknown"
)

const (
	configDirEnv   = "EVTRACKER_CONFIG_DIR"
	schedulerSize  = 1024
	storageTimeout = 10 * time.Second
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime = time.Now()
)

func main() {
	// stderr until the log file is open; stdout carries CLI output
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(os.Stderr, "info", nil)
	Logger = SlogManager.Logger()

	if err := loadConfig(); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config")
	}

	args := os.Args[1:]
	if len(args) > 0 && args[0] != "serve" {
		if err := runCLI(args, os.Stdout); err != nil {
			Logger.Error("Command failed", "command", args[0], "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		Logger.Error("Tracker stopped with error", "error", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	dir := os.Getenv(configDirEnv)
	if dir == "" {
		dir = "."
	}
	return config.Load(dir)
}

// openLogFile creates the session log file, moving an existing one aside.
func openLogFile(logsDir string) (*os.File, string, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create logs dir: %w", err)
	}
	path := logging.LogFilePath(logsDir, logging.ServiceName, SessionStartTime)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".old")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return nil, path, err
	}
	return f, path, nil
}

// setupLogging re-initializes slog with the log file, Graylog and OTel
// sinks and returns the writer zerolog components should use.
func setupLogging(sess *session.Context, live *atomic.Pointer[engine.Engine]) (io.Writer, func()) {
	level := viper.GetString("logLevel")
	var out io.Writer = os.Stdout
	var closers []func()

	logFile, logPath, err := openLogFile(viper.GetString("logsDir"))
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", logPath)
	} else {
		out = logFile
		closers = append(closers, func() { _ = logFile.Close() })
		Logger.Info("Begin logging in logs directory", "path", logPath)
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    out,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
			InstanceID:   sess.Get().ID.String(),
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	opts := []logging.SetupOption{
		logging.WithContext(func() []slog.Attr {
			s := sess.Get()
			attrs := []slog.Attr{
				slog.String("session", s.ID.String()),
				slog.String("track", s.Track),
			}
			if eng := live.Load(); eng != nil {
				st := eng.Stats()
				attrs = append(attrs, slog.Int("vehicles", st.Vehicles), slog.Int("alerts", st.Alerts))
			}
			return attrs
		}),
	}
	if viper.GetBool("graylog.enabled") {
		gw, err := logging.NewGelfWriter(viper.GetString("graylog.address"))
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err)
		} else {
			opts = append(opts, logging.WithGelf(gw))
			closers = append(closers, func() { _ = gw.Close() })
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	var file io.Writer
	if logFile != nil {
		file = logFile
	}
	SlogManager.Setup(file, level, otelLogProvider, opts...)
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)

	return out, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

// loadLandmarks reads landmarks.file when set, else asks the backend.
func loadLandmarks(ctx context.Context, backend storage.Backend) []core.Landmark {
	if path := viper.GetString("landmarks.file"); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			var landmarks []core.Landmark
			if err = json.Unmarshal(data, &landmarks); err == nil {
				return landmarks
			}
		}
		Logger.Error("Failed to read landmarks file, using storage", "path", path, "error", err)
	}
	landmarks, err := backend.ListLandmarks(ctx)
	if err != nil {
		Logger.Error("Failed to load landmarks, using defaults", "error", err)
		return storage.DefaultLandmarks()
	}
	return landmarks
}

// loadPolyline reads motion.polylineFile when set, else asks the backend.
func loadPolyline(ctx context.Context, backend storage.Backend) (core.Polyline, error) {
	if path := viper.GetString("motion.polylineFile"); path != "" {
		return geo.LoadPolylineFile(path)
	}
	return backend.LoadPolyline(ctx)
}

func run(ctx context.Context) error {
	sess := session.NewContext(SessionStartTime)
	var live atomic.Pointer[engine.Engine]
	out, closeLogs := setupLogging(sess, &live)
	defer closeLogs()
	level := viper.GetString("logLevel")

	Logger.Info("Starting evtracker", "version", CurrentVersion, "build", BuildDate, "session", sess.Get().ID)

	// Storage
	backend, err := openStorage(config.GetStorageConfig(), logging.NewZerolog(out, level, "database"))
	if err != nil {
		Logger.Error("Storage unavailable, falling back to memory", "error", err)
		backend = newMemoryBackend(config.StorageConfig{})
	}
	defer func() {
		if err := backend.Close(); err != nil {
			Logger.Error("Failed to close storage", "error", err)
		}
	}()

	storageCtx, cancel := context.WithTimeout(ctx, storageTimeout)
	tracks := cache.NewTrackCache()
	if list, err := backend.ListTracks(storageCtx); err != nil {
		Logger.Error("Failed to load tracks", "error", err)
	} else {
		tracks.Load(list)
		Logger.Info("Loaded tracks", "count", len(list))
	}
	landmarks := loadLandmarks(storageCtx, backend)
	polyline, polylineErr := loadPolyline(storageCtx, backend)
	cancel()

	// Telemetry
	recorders := multiRecorder{}
	var influxManager *influx.Manager
	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		influxManager = influx.NewManager(influxCfg, logging.NewZerolog(out, level, "influx"),
			filepath.Join(viper.GetString("logsDir"), "influx_backup.log.gz"))
		if err := influxManager.Connect(ctx); err != nil {
			Logger.Error("Failed to set up InfluxDB", "error", err)
			influxManager = nil
		} else {
			recorders = append(recorders, influxManager)
		}
	}
	if ar, ok := backend.(storage.AlertRecorder); ok {
		recorders = append(recorders, alertAudit{rec: ar, session: sess, logger: Logger})
	}

	// Engine
	// the loop outlives ctx so shutdown can still cancel timers on it
	loop := scheduler.NewLoop(schedulerSize)
	loop.Start(context.Background())
	defer loop.Stop()

	hub := server.NewHub(Logger)
	notifier := notify.NewNotifier(notify.Multi{hub, notify.LogOutput{Logger: Logger}}, loop)
	eng := engine.New(loop, notifier, config.GetEngineConfig(),
		engine.WithLogger(Logger),
		engine.WithRecorder(recorders),
		engine.WithTracks(tracks),
	)
	defer eng.Close()
	live.Store(eng)
	unsubscribe := eng.Subscribe(hub.Publish)
	defer unsubscribe()

	if polylineErr == nil {
		if err := eng.LoadPolyline(polyline); err != nil {
			Logger.Error("Invalid reference polyline", "error", err)
		} else {
			Logger.Info("Loaded reference polyline", "points", len(polyline))
		}
	} else if !errors.Is(polylineErr, storage.ErrNoPolyline) {
		Logger.Error("Failed to load reference polyline", "error", polylineErr)
	}

	if OTelProvider != nil {
		if err := registerMetrics(OTelProvider.Meter(logging.ServiceName), eng, hub); err != nil {
			Logger.Error("Failed to register metrics", "error", err)
		}
	}

	// Upstream feed
	disp, err := dispatcher.New(logging.NewDispatcherLogger(logging.NewZerolog(out, level, "dispatcher")))
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	defer disp.Close()
	worker.NewManager(worker.Dependencies{Engine: eng, Logger: Logger}).RegisterHandlers(disp)

	tcfg := config.GetTransportConfig()
	upstream := transport.New(transport.Config{
		URL:          tcfg.URL,
		Secret:       tcfg.Secret,
		Events:       tcfg.Events,
		MaxReconnect: tcfg.MaxReconnect,
		Backoff:      tcfg.Backoff,
		PongWait:     tcfg.PongWait,
	}, disp, Logger)
	if err := upstream.Start(); err != nil {
		return fmt.Errorf("start upstream client: %w", err)
	}
	defer upstream.Close()

	// Renderer API
	scfg := config.GetServerConfig()
	srv := server.New(server.Config{Addr: scfg.Addr, ShutdownTimeout: scfg.ShutdownTimeout}, server.Dependencies{
		Engine:    eng,
		Hub:       hub,
		Tracks:    backend,
		Landmarks: landmarks,
		Upstream:  upstream,
		Session:   sess,
		Logger:    Logger,
	})
	srv.Start()

	var perf monitor.PerformanceRecorder
	if influxManager != nil {
		perf = influxManager
	}
	alarmStatus := func() notify.AlarmStatus {
		var st notify.AlarmStatus
		loop.Do(func() { st = notifier.Alarm.Status() })
		return st
	}
	mon := monitor.NewService(monitor.Dependencies{
		Stats:      eng.Stats,
		Clients:    hub.Clients,
		Connected:  upstream.Connected,
		Received:   upstream.Received,
		Alarm:      alarmStatus,
		Recorder:   perf,
		Logger:     Logger,
		StatusFile: filepath.Join(viper.GetString("logsDir"), "status.json"),
		Interval:   viper.GetDuration("monitor.interval"),
	})
	_ = mon.Start()

	<-ctx.Done()
	Logger.Info("Shutting down")

	mon.Stop()
	if err := srv.Shutdown(context.Background()); err != nil {
		Logger.Error("HTTP shutdown failed", "error", err)
	}
	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			Logger.Error("Failed to close InfluxDB", "error", err)
		}
	}
	flushTelemetry()
	return nil
}

func flushTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SlogManager.Flush(ctx); err != nil {
		Logger.Error("Failed to flush logs", "error", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Error("Failed to shut down OTel", "error", err)
		}
	}
}
