package database

import (
	"fmt"
	"sort"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Pool limits for server-backed drivers. Lock history is written by one
// recorder goroutine and read by the history endpoint, so a small pool suffices.
const (
	networkMaxOpenConns = 8
	networkMaxIdleConns = 2
)

type networkDriver struct {
	name        string
	defaultHost string
	defaultPort int
	dialector   func(dsn string) gorm.Dialector
	dsn         func(cfg Config, host string, port int) string
}

var (
	postgresDriver = networkDriver{
		name:        "postgres",
		defaultHost: "localhost",
		defaultPort: 5432,
		dialector:   postgres.Open,
		dsn:         postgresDSN,
	}
	mysqlDriver = networkDriver{
		name:        "mysql",
		defaultHost: "127.0.0.1",
		defaultPort: 3306,
		dialector:   mysql.Open,
		dsn:         mysqlDSN,
	}
)

func openNetwork(d networkDriver, cfg Config) (*gorm.DB, error) {
	dsn, err := d.buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d.dialector(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(networkMaxOpenConns)
	sqlDB.SetMaxIdleConns(networkMaxIdleConns)
	return db, nil
}

func (d networkDriver) buildDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", fmt.Errorf("%s configuration requires user and database name", d.name)
	}

	host := cfg.Host
	if host == "" {
		host = d.defaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = d.defaultPort
	}
	return d.dsn(cfg, host, port), nil
}

func postgresDSN(cfg Config, host string, port int) string {
	params := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("user=%s", cfg.User),
		fmt.Sprintf("dbname=%s", cfg.Name),
	}
	if cfg.Password != "" {
		params = append(params, fmt.Sprintf("password=%s", cfg.Password))
	}

	options := mergeOptions(map[string]string{"sslmode": "disable"}, cfg.Options)
	params = append(params, sortedPairs(options)...)
	return strings.Join(params, " ")
}

func mysqlDSN(cfg Config, host string, port int) string {
	user := cfg.User
	if cfg.Password != "" {
		user = cfg.User + ":" + cfg.Password
	}

	// parseTime is needed to scan lock_events.created_at into time.Time.
	options := mergeOptions(map[string]string{
		"charset":   "utf8mb4",
		"parseTime": "True",
		"loc":       "UTC",
	}, cfg.Options)
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", user, host, port, cfg.Name, strings.Join(sortedPairs(options), "&"))
}

func mergeOptions(defaults, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(overrides))
	for key, value := range defaults {
		out[key] = value
	}
	for key, value := range overrides {
		out[key] = value
	}
	return out
}

func sortedPairs(options map[string]string) []string {
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+options[key])
	}
	return pairs
}
