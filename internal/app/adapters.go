package app

import (
	"strings"

	"github.com/charlesng35/sectionlock/internal/auth"
	"github.com/charlesng35/sectionlock/internal/database"
	"github.com/charlesng35/sectionlock/internal/realtime"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// DatabaseOptions converts DatabaseConfig into database.Config, picking the
// host block that matches the driver.
func (c DatabaseConfig) DatabaseOptions() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   c.Path,
		DSN:    c.DSN,
	}

	var host DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql":
		host = c.MySQL
	default:
		return cfg
	}

	cfg.Host = host.Host
	cfg.Port = host.Port
	cfg.Name = host.Database
	cfg.User = host.Username
	cfg.Password = host.Password
	cfg.Options = host.Options
	return cfg
}

// RealtimeOptions converts the connection tuning knobs for the WebSocket server.
func (c Config) RealtimeOptions() realtime.Options {
	return realtime.Options{
		SendBuffer:     c.Collab.SendBuffer,
		MaxMessageSize: c.Collab.MaxMessageSize,
		PongWait:       c.Collab.PongWait,
		AllowedOrigins: c.Server.AllowedOrigins,
	}
}
