// Package config loads evtracker.cfg.json through viper. Every key has a
// default so the tracker runs without a file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/srec-ev/tracker/internal/alert"
	"github.com/srec-ev/tracker/internal/camera"
	"github.com/srec-ev/tracker/internal/engine"
	"github.com/srec-ev/tracker/internal/motion"
	"github.com/srec-ev/tracker/internal/trail"
	"github.com/srec-ev/tracker/pkg/core"
	"github.com/srec-ev/tracker/pkg/streaming"
)

// FileName is the config file looked up in the config directory.
const FileName = "evtracker.cfg.json"

// ErrNotFound is returned by Load when no config file exists. Defaults
// remain usable.
var ErrNotFound = errors.New("config file not found")

// SQLiteConfig holds sqlite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// MemoryConfig holds in-memory storage backend settings
type MemoryConfig struct {
	TracksFile string `json:"tracksFile" mapstructure:"tracksFile"`
}

// RestConfig holds the REST storage backend settings
type RestConfig struct {
	URL    string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey string `json:"apiKey" mapstructure:"apiKey"`
}

type StorageConfig struct {
	Type   string
	SQLite SQLiteConfig
	Memory MemoryConfig
	Rest   RestConfig
}

type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

type TransportConfig struct {
	URL          string
	Secret       string
	Events       []string
	MaxReconnect int
	Backoff      time.Duration
	PongWait     time.Duration
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type InfluxConfig struct {
	Enabled  bool
	URL      string
	Token    string
	Org      string
	Interval time.Duration
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Environment
// variables prefixed EVTRACKER_ override file values.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./evlogs")

	viper.SetDefault("api.serverUrl", "http://localhost:3000")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "evtracker")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "evtracker-metrics")
	viper.SetDefault("influx.interval", "10s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.tracksFile", "")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "./evtracker.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "evtracker")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("transport.url", "ws://localhost:8080/stream")
	viper.SetDefault("transport.secret", "")
	viper.SetDefault("transport.events", []string{
		streaming.EventLocationUpdate, streaming.EventSOS, streaming.EventOK, streaming.EventWarning,
	})
	viper.SetDefault("transport.maxReconnect", 0)
	viper.SetDefault("transport.backoff", "1s")
	viper.SetDefault("transport.pongWait", "60s")

	viper.SetDefault("server.addr", ":8090")
	viper.SetDefault("server.shutdownTimeout", "10s")

	viper.SetDefault("engine.trailLimit", trail.DefaultLimit)
	viper.SetDefault("engine.home.lat", camera.DefaultHome.Lat)
	viper.SetDefault("engine.home.lng", camera.DefaultHome.Lng)
	viper.SetDefault("engine.constrained", false)
	viper.SetDefault("engine.warningTTL", alert.DefaultWarningTTL.String())
	viper.SetDefault("engine.dismissClearsWarnings", false)
	viper.SetDefault("engine.sosPhrase", alert.DefaultSOSPhrase)

	viper.SetDefault("motion.polylineFile", "")
	viper.SetDefault("motion.stepConstant", motion.DefaultStepConstant)
	viper.SetDefault("motion.minInterval", motion.DefaultMinInterval.String())

	viper.SetDefault("landmarks.file", "")
	viper.SetDefault("monitor.interval", "1m")

	viper.SetEnvPrefix("EVTRACKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w in %s", ErrNotFound, configDir)
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Memory: MemoryConfig{
			TracksFile: viper.GetString("storage.memory.tracksFile"),
		},
		Rest: RestConfig{
			URL:    viper.GetString("api.serverUrl"),
			APIKey: viper.GetString("api.apiKey"),
		},
	}
}

func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

func GetTransportConfig() TransportConfig {
	return TransportConfig{
		URL:          viper.GetString("transport.url"),
		Secret:       viper.GetString("transport.secret"),
		Events:       viper.GetStringSlice("transport.events"),
		MaxReconnect: viper.GetInt("transport.maxReconnect"),
		Backoff:      viper.GetDuration("transport.backoff"),
		PongWait:     viper.GetDuration("transport.pongWait"),
	}
}

func GetServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            viper.GetString("server.addr"),
		ShutdownTimeout: viper.GetDuration("server.shutdownTimeout"),
	}
}

func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled: viper.GetBool("influx.enabled"),
		URL: fmt.Sprintf("%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Interval: viper.GetDuration("influx.interval"),
	}
}

// GetEngineConfig builds the engine configuration. Out-of-range values
// fall back to their defaults.
func GetEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()

	if n := viper.GetInt("engine.trailLimit"); n > 0 {
		cfg.TrailLimit = n
	}
	home := core.Position{Lat: viper.GetFloat64("engine.home.lat"), Lng: viper.GetFloat64("engine.home.lng")}
	if home.Lat >= -90 && home.Lat <= 90 && home.Lng >= -180 && home.Lng <= 180 {
		cfg.Home = home
	}
	cfg.Constrained = viper.GetBool("engine.constrained")

	if ttl := viper.GetDuration("engine.warningTTL"); ttl > 0 {
		cfg.Alerts.WarningTTL = ttl
	}
	cfg.Alerts.DismissClearsWarnings = viper.GetBool("engine.dismissClearsWarnings")
	if phrase := strings.TrimSpace(viper.GetString("engine.sosPhrase")); phrase != "" {
		cfg.Alerts.SOSPhrase = phrase
	}

	if k := viper.GetFloat64("motion.stepConstant"); k > 0 {
		cfg.Motion.StepConstant = k
	}
	if d := viper.GetDuration("motion.minInterval"); d > 0 {
		cfg.Motion.MinInterval = d
	}
	return cfg
}
