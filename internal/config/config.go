// Package config loads server configuration from the environment.
//
// Every setting has a default, so an empty environment yields a working
// local server. cmd/amstig lets flags override what Load returns.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/amstig/internal/sandbox"
	"github.com/sakif/amstig/internal/service"
)

// Sandbox backends.
const (
	BackendProcess = "process"
	BackendDocker  = "docker"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Port   int
	DBPath string

	Backend        string
	Timeout        time.Duration
	PoolSize       int
	Admission      service.AdmissionPolicy
	QueueLimit     int
	QueueTimeout   time.Duration
	MaxOutputBytes int
	MaxErrorLength int
	MemoryPages    uint32
	CacheDir       string
	DockerImage    string

	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int

	LogLevel slog.Level
}

// Defaults returns the configuration used when no variable is set.
func Defaults() Config {
	return Config{
		Port:           8080,
		DBPath:         "data/amstig.db",
		Backend:        BackendProcess,
		Timeout:        5 * time.Second,
		PoolSize:       4,
		Admission:      service.AdmissionQueue,
		QueueLimit:     16,
		QueueTimeout:   2 * time.Second,
		MaxOutputBytes: 64 * 1024,
		MaxErrorLength: 1000,
		MemoryPages:    sandbox.DefaultMemoryLimitPages,
		CacheDir:       sandbox.DefaultCacheDir(),
		DockerImage:    "amstig-sandbox:latest",
		AllowedOrigins: []string{"http://localhost:3000"},
		RateLimit:      5,
		RateBurst:      10,
		LogLevel:       slog.LevelInfo,
	}
}

// Load reads the configuration with getenv, usually os.Getenv. All parse
// errors are reported together.
func Load(getenv func(string) string) (Config, error) {
	cfg := Defaults()
	p := parser{getenv: getenv}

	p.int("PORT", &cfg.Port)
	p.str("DB_PATH", &cfg.DBPath)
	p.str("AMSTIG_SANDBOX", &cfg.Backend)
	p.duration("AMSTIG_TIMEOUT", &cfg.Timeout)
	p.int("AMSTIG_POOL_SIZE", &cfg.PoolSize)
	if v := getenv("AMSTIG_ADMISSION"); v != "" {
		cfg.Admission = service.AdmissionPolicy(strings.ToLower(v))
	}
	p.int("AMSTIG_QUEUE_LIMIT", &cfg.QueueLimit)
	p.duration("AMSTIG_QUEUE_TIMEOUT", &cfg.QueueTimeout)
	p.int("AMSTIG_MAX_OUTPUT", &cfg.MaxOutputBytes)
	p.int("AMSTIG_MAX_ERROR", &cfg.MaxErrorLength)
	if v := getenv("AMSTIG_MEMORY_PAGES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			p.fail("AMSTIG_MEMORY_PAGES", v, err)
		} else {
			cfg.MemoryPages = uint32(n)
		}
	}
	p.str("AMSTIG_CACHE_DIR", &cfg.CacheDir)
	p.str("AMSTIG_DOCKER_IMAGE", &cfg.DockerImage)
	if v := getenv("AMSTIG_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := getenv("AMSTIG_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail("AMSTIG_RATE_LIMIT", v, err)
		} else {
			cfg.RateLimit = f
		}
	}
	p.int("AMSTIG_RATE_BURST", &cfg.RateBurst)
	if v := getenv("AMSTIG_LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			p.fail("AMSTIG_LOG_LEVEL", v, err)
		}
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Backend != BackendProcess && c.Backend != BackendDocker {
		errs = append(errs, fmt.Errorf("sandbox backend %q must be %s or %s", c.Backend, BackendProcess, BackendDocker))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be > 0"))
	}
	if c.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("pool size must be > 0"))
	}
	if c.Admission != service.AdmissionQueue && c.Admission != service.AdmissionReject {
		errs = append(errs, fmt.Errorf("admission policy %q must be queue or reject", c.Admission))
	}
	if c.QueueLimit < 0 {
		errs = append(errs, fmt.Errorf("queue limit must be >= 0"))
	}
	if c.MaxOutputBytes <= 0 {
		errs = append(errs, fmt.Errorf("max output must be > 0"))
	}
	if c.MaxErrorLength <= 0 {
		errs = append(errs, fmt.Errorf("max error length must be > 0"))
	}
	return errors.Join(errs...)
}

// responseMargin covers formatting and the execution log write after a run.
const responseMargin = 10 * time.Second

// WriteTimeout is the longest a request can take to be answered: the queue
// wait, the run itself and the time to report it.
func (c Config) WriteTimeout() time.Duration {
	return c.QueueTimeout + c.Timeout + responseMargin
}

// Gateway returns the admission and execution limits for service.NewGateway.
func (c Config) Gateway() service.GatewayConfig {
	return service.GatewayConfig{
		PoolSize:       c.PoolSize,
		Admission:      c.Admission,
		QueueLimit:     c.QueueLimit,
		QueueTimeout:   c.QueueTimeout,
		Timeout:        c.Timeout,
		MaxOutputBytes: c.MaxOutputBytes,
	}
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("config: %s=%q: %w", key, value, err))
}

func (p *parser) str(key string, dst *string) {
	if v := p.getenv(key); v != "" {
		*dst = v
	}
}

func (p *parser) int(key string, dst *int) {
	v := p.getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = n
}

// duration accepts Go durations ("5s") or bare milliseconds ("5000").
func (p *parser) duration(key string, dst *time.Duration) {
	v := p.getenv(key)
	if v == "" {
		return
	}
	if ms, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
