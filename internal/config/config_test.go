package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srec-ev/tracker/internal/camera"
	"github.com/srec-ev/tracker/pkg/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./evlogs", viper.GetString("logsDir"))
	assert.Equal(t, "http://localhost:3000", viper.GetString("api.serverUrl"))
	assert.Equal(t, "evtracker", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "", viper.GetString("motion.polylineFile"))
	assert.Equal(t, "", viper.GetString("landmarks.file"))
	assert.Equal(t, time.Minute, GetDuration("monitor.interval"))
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, "memory", GetStorageConfig().Type)
	assert.Equal(t, ":8090", GetServerConfig().Addr)
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(writeConfig(t, `{ not json`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("EVTRACKER_SERVER_ADDR", ":9999")

	require.NoError(t, Load(writeConfig(t, `{}`)))
	assert.Equal(t, ":9999", GetServerConfig().Addr)
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)

	assert.Equal(t, "testValue", GetString("testKey"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "", cfg.SQLite.Path)
	assert.Equal(t, "./evtracker.db", cfg.SQLite.DumpPath)
	assert.Equal(t, 3*time.Minute, cfg.SQLite.DumpInterval)
	assert.Equal(t, "http://localhost:3000", cfg.Rest.URL)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"memory": { "tracksFile": "/tmp/tracks.json" },
			"sqlite": { "path": "/tmp/ev.db", "dumpInterval": "10m" }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/tracks.json", sc.Memory.TracksFile)
	assert.Equal(t, "/tmp/ev.db", sc.SQLite.Path)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "evtracker", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetTransportConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"transport": { "url": "wss://feed.example/ws", "secret": "s3", "events": ["locationUpdate"], "backoff": "2s" }
	}`)))

	tc := GetTransportConfig()
	assert.Equal(t, "wss://feed.example/ws", tc.URL)
	assert.Equal(t, "s3", tc.Secret)
	assert.Equal(t, []string{"locationUpdate"}, tc.Events)
	assert.Equal(t, 2*time.Second, tc.Backoff)
	assert.Equal(t, 0, tc.MaxReconnect)
	assert.Equal(t, time.Minute, tc.PongWait)
}

func TestGetInfluxConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{ "influx": { "enabled": true, "host": "influx" } }`)))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "http://influx:8086", ic.URL)
	assert.Equal(t, "evtracker-metrics", ic.Org)
}

func TestGetEngineConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetEngineConfig()
	assert.Equal(t, 100, cfg.TrailLimit)
	assert.Equal(t, camera.DefaultHome, cfg.Home)
	assert.False(t, cfg.Constrained)
	assert.Equal(t, 10*time.Second, cfg.Alerts.WarningTTL)
	assert.Equal(t, "SOS Alert", cfg.Alerts.SOSPhrase)
	assert.Equal(t, 10.0, cfg.Motion.StepConstant)
	assert.Equal(t, 20*time.Millisecond, cfg.Motion.MinInterval)
}

func TestGetEngineConfig_OverrideAndInvalidFallback(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"engine": {
			"trailLimit": 20,
			"constrained": true,
			"home": { "lat": 95, "lng": 10 },
			"warningTTL": "-1s",
			"dismissClearsWarnings": true
		},
		"motion": { "stepConstant": 25 }
	}`)))

	cfg := GetEngineConfig()
	assert.Equal(t, 20, cfg.TrailLimit)
	assert.True(t, cfg.Constrained)
	assert.Equal(t, camera.DefaultHome, cfg.Home)
	assert.Equal(t, 10*time.Second, cfg.Alerts.WarningTTL)
	assert.True(t, cfg.Alerts.DismissClearsWarnings)
	assert.Equal(t, 25.0, cfg.Motion.StepConstant)
	assert.NotEqual(t, core.Position{}, cfg.Home)
}
