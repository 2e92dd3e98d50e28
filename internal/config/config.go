// Package config provides YAML-based configuration loading for the
// rehearsal simulator.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/zulandar/rehearsal/internal/exchange"
	"github.com/zulandar/rehearsal/internal/logging"
	"github.com/zulandar/rehearsal/internal/msgtmpl"
	"github.com/zulandar/rehearsal/internal/simulator"
)

// Config is the top-level configuration, loaded from rehearsal.yaml.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Lead      msgtmpl.Lead    `yaml:"lead"`
	Copy      simulator.Copy  `yaml:"copy"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
}

// ServiceConfig points at the agent-response service.
type ServiceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"` // 0 waits indefinitely
	Primary PathsConfig   `yaml:"primary"`
	Legacy  PathsConfig   `yaml:"legacy"`
	// DisableLegacy turns off the retry against the legacy endpoints.
	DisableLegacy bool   `yaml:"disable_legacy"`
	Fallback      string `yaml:"fallback"` // any or unsupported
}

// PathsConfig holds endpoint templates; "{agent}" is the agent ID.
type PathsConfig struct {
	Initial  string `yaml:"initial_message"`
	Response string `yaml:"response"`
}

// Paths converts to the exchange representation.
func (p PathsConfig) Paths() exchange.Paths {
	return exchange.Paths{Initial: p.Initial, Response: p.Response}
}

func (p PathsConfig) hasAgent() bool {
	return strings.Contains(p.Initial, "{agent}") && strings.Contains(p.Response, "{agent}")
}

// DatabaseConfig holds connection settings for the agent store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite or mysql
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// DashboardConfig configures the HTTP server.
type DashboardConfig struct {
	Port        int           `yaml:"port"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	Sweep       string        `yaml:"sweep"` // standard 5-field cron spec
}

// NotifyConfig selects where escalation events are delivered. Every
// target is optional.
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	DiscordToken    string `yaml:"discord_token"`
	DiscordChannel  string `yaml:"discord_channel"`
	AMQPURL         string `yaml:"amqp_url"`
	AMQPExchange    string `yaml:"amqp_exchange"`
	Record          bool   `yaml:"record"`
}

// Enabled reports whether any target is configured.
func (n NotifyConfig) Enabled() bool {
	return n.SlackWebhookURL != "" || n.DiscordChannel != "" || n.AMQPURL != "" || n.Record
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Options converts to logging options.
func (l LogConfig) Options() logging.Options {
	return logging.Options{Level: l.Level, Format: l.Format}
}

// DefaultLead is the simulated lead used when the config names none.
var DefaultLead = msgtmpl.Lead{
	Name:        "João Silva",
	Company:     "Tech Solutions LTDA",
	Title:       "CEO",
	Location:    "São Paulo, Brasil",
	Industry:    "Tecnologia da Informação",
	Connections: "500+",
	Summary:     "Profissional experiente em transformação digital",
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Service.Primary.Initial == "" {
		c.Service.Primary.Initial = exchange.PrimaryPaths.Initial
	}
	if c.Service.Primary.Response == "" {
		c.Service.Primary.Response = exchange.PrimaryPaths.Response
	}
	if c.Service.Legacy.Initial == "" {
		c.Service.Legacy.Initial = exchange.LegacyPaths.Initial
	}
	if c.Service.Legacy.Response == "" {
		c.Service.Legacy.Response = exchange.LegacyPaths.Response
	}
	if c.Service.Fallback == "" {
		c.Service.Fallback = string(exchange.FallbackAny)
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "rehearsal.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" {
		c.Database.Name = "rehearsal"
	}

	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Dashboard.IdleTimeout == 0 {
		c.Dashboard.IdleTimeout = 30 * time.Minute
	}
	if c.Dashboard.Sweep == "" {
		c.Dashboard.Sweep = "*/5 * * * *"
	}

	if c.Lead == (msgtmpl.Lead{}) {
		c.Lead = DefaultLead
	}
	if c.Notify.AMQPExchange == "" {
		c.Notify.AMQPExchange = "rehearsal.events"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Service.BaseURL == "" {
		errs = append(errs, "service.base_url is required")
	}
	if c.Service.Timeout < 0 {
		errs = append(errs, "service.timeout must not be negative")
	}
	if _, err := exchange.ParsePolicy(c.Service.Fallback); err != nil {
		errs = append(errs, fmt.Sprintf("service.fallback %q must be any or unsupported", c.Service.Fallback))
	}
	if !c.Service.Primary.hasAgent() {
		errs = append(errs, "service.primary paths must contain {agent}")
	}
	if !c.Service.DisableLegacy && !c.Service.Legacy.hasAgent() {
		errs = append(errs, "service.legacy paths must contain {agent}")
	}

	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}

	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if c.Dashboard.IdleTimeout < 0 {
		errs = append(errs, "dashboard.idle_timeout must not be negative")
	}
	if _, err := cron.ParseStandard(c.Dashboard.Sweep); err != nil {
		errs = append(errs, fmt.Sprintf("dashboard.sweep: %v", err))
	}

	if (c.Notify.DiscordToken == "") != (c.Notify.DiscordChannel == "") {
		errs = append(errs, "notify.discord_token and notify.discord_channel must be set together")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level %q is not a valid level", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
