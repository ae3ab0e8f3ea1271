package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/boards"
	"github.com/KevinKickass/OpenHarnessCore/internal/director"
	"github.com/KevinKickass/OpenHarnessCore/internal/discovery"
	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/KevinKickass/OpenHarnessCore/internal/session"
	"github.com/KevinKickass/OpenHarnessCore/internal/transport"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Session     SessionConfig     `mapstructure:"session"`
	Director    DirectorConfig    `mapstructure:"director"`
	Links       LinksConfig       `mapstructure:"links"`
	Measurement MeasurementConfig `mapstructure:"measurement"`
	Pinout      PinoutConfig      `mapstructure:"pinout"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TransportConfig struct {
	KeepAlivePeriod  time.Duration `mapstructure:"keepalive_period"`
	KeepAlivePayload string        `mapstructure:"keepalive_payload"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	MaxFrameSize     int           `mapstructure:"max_frame_size"`
}

type SessionConfig struct {
	AckTimeout           time.Duration `mapstructure:"ack_timeout"`
	VoltageResultTimeout time.Duration `mapstructure:"voltage_result_timeout"`
	BoardsResultTimeout  time.Duration `mapstructure:"boards_result_timeout"`
	CheckResultTimeout   time.Duration `mapstructure:"check_result_timeout"`
}

type DirectorConfig struct {
	SettlePeriod time.Duration `mapstructure:"settle_period"`
	VoltageLevel int           `mapstructure:"voltage_level"`
}

type LinksConfig struct {
	TCP             []string                 `mapstructure:"tcp"`
	Serial          []transport.SerialConfig `mapstructure:"serial"`
	MDNS            MDNSConfig               `mapstructure:"mdns"`
	RetryInterval   time.Duration            `mapstructure:"retry_interval"`
	BreakerFailures uint32                   `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration            `mapstructure:"breaker_timeout"`
}

type MDNSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Service string `mapstructure:"service"`
}

type MeasurementConfig struct {
	AbsThreshold  float64 `mapstructure:"abs_threshold"`
	PctThreshold  float64 `mapstructure:"pct_threshold"`
	ListThreshold float64 `mapstructure:"list_threshold"`
}

type PinoutConfig struct {
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("transport.keepalive_period", "0s")
	v.SetDefault("transport.keepalive_payload", "\n")
	v.SetDefault("transport.dial_timeout", "5s")
	v.SetDefault("transport.max_frame_size", transport.DefaultMaxFrameSize)

	v.SetDefault("session.ack_timeout", "200ms")
	v.SetDefault("session.voltage_result_timeout", "300ms")
	v.SetDefault("session.boards_result_timeout", "2s")
	v.SetDefault("session.check_result_timeout", "2s")

	v.SetDefault("director.settle_period", "10s")
	v.SetDefault("director.voltage_level", 0)

	v.SetDefault("links.tcp", []string{})
	v.SetDefault("links.mdns.enabled", false)
	v.SetDefault("links.mdns.service", discovery.DefaultMDNSService)
	v.SetDefault("links.retry_interval", "5s")
	v.SetDefault("links.breaker_failures", 3)
	v.SetDefault("links.breaker_timeout", "30s")

	v.SetDefault("measurement.abs_threshold", boards.DefaultAbsThreshold)
	v.SetDefault("measurement.pct_threshold", boards.DefaultPctThreshold)
	v.SetDefault("measurement.list_threshold", boards.DefaultListThreshold)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "harness")
	v.SetDefault("database.user", "harness")
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("log.development", false)
}

// Load reads the YAML file at path. An empty path runs on defaults and
// HARNESS_ environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HARNESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if !protocol.VoltageLevel(c.Director.VoltageLevel).Valid() {
		return fmt.Errorf("director.voltage_level must be 0 or 1, got %d", c.Director.VoltageLevel)
	}
	if c.Session.AckTimeout <= 0 {
		return fmt.Errorf("session.ack_timeout must be positive")
	}
	if c.Transport.MaxFrameSize <= 0 {
		return fmt.Errorf("transport.max_frame_size must be positive")
	}
	for _, s := range c.Links.Serial {
		if s.Port == "" {
			return fmt.Errorf("links.serial entries need a port")
		}
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		KeepAlivePeriod:  c.Transport.KeepAlivePeriod,
		KeepAlivePayload: []byte(c.Transport.KeepAlivePayload),
		MaxFrameSize:     uint32(c.Transport.MaxFrameSize),
	}
}

func (c *Config) SessionConfig() session.Config {
	return session.Config{
		AckTimeout:           c.Session.AckTimeout,
		VoltageResultTimeout: c.Session.VoltageResultTimeout,
		BoardsResultTimeout:  c.Session.BoardsResultTimeout,
		CheckResultTimeout:   c.Session.CheckResultTimeout,
	}
}

func (c *Config) DirectorConfig() director.Config {
	return director.Config{
		SettlePeriod: c.Director.SettlePeriod,
		VoltageLevel: protocol.VoltageLevel(c.Director.VoltageLevel),
		Session:      c.SessionConfig(),
	}
}

func (c *Config) DiscoveryConfig() discovery.Config {
	return discovery.Config{
		RetryInterval:   c.Links.RetryInterval,
		BreakerFailures: c.Links.BreakerFailures,
		BreakerTimeout:  c.Links.BreakerTimeout,
		Transport:       c.TransportOptions(),
	}
}

func (c *Config) BoardsConfig() boards.Config {
	return boards.Config{
		Thresholds: boards.Thresholds{
			Abs: c.Measurement.AbsThreshold,
			Pct: c.Measurement.PctThreshold,
		},
		ListThreshold: c.Measurement.ListThreshold,
	}
}
