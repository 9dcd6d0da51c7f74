package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, []string{"editor.example.com"}, cfg.Server.AllowedOrigins)
	require.Equal(t, RateRule{Requests: 5, Window: 10 * time.Second}, cfg.Server.RateLimit.Connect)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, "require", cfg.Database.Postgres.Options["sslmode"])

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "sectionlock-test", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)

	require.Equal(t, 10*time.Minute, cfg.Collab.IdleLockTimeout)
	require.Equal(t, "@every 1m", cfg.Collab.SweepSchedule)
	require.Equal(t, 128, cfg.Collab.SendBuffer)
	require.EqualValues(t, 4096, cfg.Collab.MaxMessageSize)
	require.Equal(t, 7, cfg.Collab.HistoryRetentionDays)
	require.Equal(t, 256, cfg.Collab.HistoryBuffer)

	// Defaults fill what the file leaves out.
	require.Equal(t, 60*time.Second, cfg.Collab.PongWait)
	require.Equal(t, "0 3 * * *", cfg.Collab.RetentionSchedule)
	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.True(t, cfg.Monitoring.Health.Enabled)
	require.Equal(t, 2*time.Second, cfg.Monitoring.Health.Timeout)
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Zero(t, cfg.Collab.IdleLockTimeout)
	require.Equal(t, 64, cfg.Collab.SendBuffer)
	require.Equal(t, 30, cfg.Collab.HistoryRetentionDays)
	require.True(t, cfg.Server.RateLimit.Enabled)
	require.Equal(t, RateRule{Requests: 120, Window: time.Minute}, cfg.Server.RateLimit.API)
	require.Equal(t, RateRule{Requests: 30, Window: time.Minute}, cfg.Server.RateLimit.Connect)
}

func TestLoadConfigEnvironmentOverride(t *testing.T) {
	t.Setenv("SECTIONLOCK_SERVER_PORT", "7070")
	t.Setenv("SECTIONLOCK_COLLAB_IDLE_LOCK_TIMEOUT", "45s")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 45*time.Second, cfg.Collab.IdleLockTimeout)
}

func TestLoadConfigExplicitFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{
		Server:   ServerConfig{Port: 8000},
		Database: DatabaseConfig{Driver: "sqlite"},
	}
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Database.Driver = "oracle"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Server.Port = 70000
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Collab.IdleLockTimeout = -time.Second
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Server.RateLimit.Connect.Requests = -1
	require.Error(t, bad.Validate())
}

func TestAdapters(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{AllowedOrigins: []string{"editor.example.com"}},
		Auth: AuthConfig{
			JWT: JWTSettings{Secret: "secret", Issuer: "sectionlock"},
		},
		Database: DatabaseConfig{
			Driver: "MySQL",
			MySQL: DBAuthConfig{
				Host:     "mysql.internal",
				Port:     3307,
				Database: "manuscripts",
				Username: "writer",
				Password: "pw",
			},
		},
		Collab: CollabConfig{SendBuffer: 16, MaxMessageSize: 1024},
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	require.Equal(t, "secret", jwtCfg.Secret)
	require.Equal(t, 15*time.Minute, jwtCfg.AccessTokenTTL)

	dbCfg := cfg.Database.DatabaseOptions()
	require.Equal(t, "mysql", dbCfg.Driver)
	require.Equal(t, "mysql.internal", dbCfg.Host)
	require.Equal(t, "manuscripts", dbCfg.Name)
	require.Equal(t, "writer", dbCfg.User)

	sqlite := DatabaseConfig{Driver: "sqlite", Path: "data/test.sqlite"}.DatabaseOptions()
	require.Equal(t, "data/test.sqlite", sqlite.Path)
	require.Empty(t, sqlite.Host)

	rt := cfg.RealtimeOptions()
	require.Equal(t, 16, rt.SendBuffer)
	require.EqualValues(t, 1024, rt.MaxMessageSize)
	require.Equal(t, []string{"editor.example.com"}, rt.AllowedOrigins)
}
