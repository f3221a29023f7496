package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/eishaa-e/flowboard/api"
	"github.com/eishaa-e/flowboard/storage"
)

const (
	driverSQLite = "sqlite"
	driverTables = "tables"
)

// lookupFunc matches os.LookupEnv.
type lookupFunc func(string) (string, bool)

type config struct {
	Debug     bool
	LogFormat string

	Driver           string
	SQLitePath       string
	ConnStr          string
	Tables           storage.TableNames
	EventsQueue      string
	QueueConcurrency int
	Provision        bool

	RedisConn      string
	UpdatesChannel string
	CacheTTL       time.Duration
	DeduperTTL     time.Duration

	SessionSecret string
	SessionTTL    time.Duration
	JWKSURL       string
	Audience      string
	Issuer        string
	JWKSCacheTTL  time.Duration

	Sender api.SenderConfig

	ListenAddr      string
	SecureCookies   bool
	ShutdownTimeout time.Duration
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (r *envReader) envString(key, def string) string {
	if v, ok := r.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (r *envReader) envBool(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}

func (r *envReader) envInt(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	if n < 0 {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: must not be negative", key))
		return def
	}
	return n
}

func (r *envReader) envDur(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	if d <= 0 {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: must be greater than zero", key))
		return def
	}
	return d
}

// loadConfig reads the server configuration from the environment. Every
// invalid or missing value is reported in the returned error.
func loadConfig(lookup lookupFunc) (config, error) {
	r := &envReader{lookup: lookup}
	cfg := config{
		Debug:     r.envBool("DEBUG", false),
		LogFormat: strings.ToLower(r.envString("LOG_FORMAT", "text")),

		Driver:     strings.ToLower(r.envString("STORAGE_DRIVER", driverSQLite)),
		SQLitePath: r.envString("SQLITE_PATH", "flowboard.db"),
		ConnStr:    r.envString("STORAGE_CONNECTION_STRING", ""),
		Tables: storage.TableNames{
			Users:      r.envString("USERS_TABLE", "users"),
			Workspaces: r.envString("WORKSPACES_TABLE", "workspaces"),
			Boards:     r.envString("BOARDS_TABLE", "boards"),
			Tasks:      r.envString("TASKS_TABLE", "tasks"),
		},
		EventsQueue:      r.envString("EVENTS_QUEUE", ""),
		QueueConcurrency: r.envInt("EVENTS_QUEUE_CONCURRENCY", 4),
		Provision:        r.envBool("STORAGE_PROVISION", false),

		RedisConn:      r.envString("REDIS_CONNECTION_STRING", ""),
		UpdatesChannel: r.envString("UPDATES_CHANNEL", storage.DefaultUpdatesChannel),
		CacheTTL:       r.envDur("CACHE_TTL", 5*time.Minute),
		DeduperTTL:     r.envDur("DEDUPER_TTL", 24*time.Hour),

		SessionSecret: r.envString("SESSION_SECRET", ""),
		SessionTTL:    r.envDur("SESSION_TTL", 24*time.Hour),
		JWKSURL:       r.envString("AUTH_JWKS_URL", ""),
		Audience:      r.envString("AUTH_AUDIENCE", ""),
		Issuer:        r.envString("AUTH_ISSUER", ""),
		JWKSCacheTTL:  r.envDur("JWKS_CACHE_TTL", 10*time.Minute),

		Sender: api.SenderConfig{
			Workers:        r.envInt("EVENT_WORKERS", 4),
			Buffer:         r.envInt("EVENT_BUFFER", 64),
			Timeout:        r.envDur("EVENT_TIMEOUT", 10*time.Second),
			HandoffTimeout: r.envDur("EVENT_HANDOFF_TIMEOUT", 100*time.Millisecond),
		},

		SecureCookies:   r.envBool("COOKIE_SECURE", false),
		ShutdownTimeout: r.envDur("SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	cfg.ListenAddr = ":8080"
	if port, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		cfg.ListenAddr = ":" + port
	}
	cfg.ListenAddr = r.envString("LISTEN_ADDR", cfg.ListenAddr)

	switch cfg.Driver {
	case driverSQLite:
		if cfg.Provision {
			r.errs = append(r.errs, errors.New("STORAGE_PROVISION requires STORAGE_DRIVER=tables"))
		}
	case driverTables:
		if cfg.ConnStr == "" {
			r.errs = append(r.errs, errors.New("missing storage config: STORAGE_CONNECTION_STRING"))
		}
	default:
		r.errs = append(r.errs, fmt.Errorf("invalid STORAGE_DRIVER %q: want %s or %s", cfg.Driver, driverSQLite, driverTables))
	}
	if cfg.EventsQueue != "" && cfg.ConnStr == "" {
		r.errs = append(r.errs, errors.New("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING"))
	}
	if cfg.SessionSecret == "" {
		r.errs = append(r.errs, errors.New("missing auth config: SESSION_SECRET"))
	}
	if cfg.JWKSURL != "" && cfg.Audience == "" {
		r.errs = append(r.errs, errors.New("AUTH_JWKS_URL requires AUTH_AUDIENCE"))
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		r.errs = append(r.errs, fmt.Errorf("invalid LOG_FORMAT %q", cfg.LogFormat))
	}
	return cfg, errors.Join(r.errs...)
}

// redisOptions accepts a redis:// URL or the Azure Cache style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}

func newLogger(cfg config) *log.Logger {
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
		log.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
		log.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}
