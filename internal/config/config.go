// Package config loads the daemon's startup configuration: a YAML file
// overridden by environment variables, then validated and defaulted,
// grounded on the teacher's internal/config/config.go pattern.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Media    MediaConfig    `yaml:"media"`
}

type ServerConfig struct {
	Name              string          `yaml:"name"`
	Host              string          `yaml:"host"`
	Port              int             `yaml:"port"`
	BaseURL           string          `yaml:"base_url"`
	TrustedProxyCIDRs []string        `yaml:"trusted_proxy_cidrs"`
	WebSocket         WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig's AllowedOrigins has no wildcard form: SPEC_FULL §6.4
// requires an explicit allow-list in production, unlike the teacher's
// single-trailing-* convention.
type WebSocketConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	ServerPassword string `yaml:"server_password"`
}

// MediaConfig configures the SFU reference engine (SPEC_FULL §6.3).
type MediaConfig struct {
	WorkerCount          int    `yaml:"worker_count"`
	NativeRTPListenIP    string `yaml:"native_rtp_listen_ip"`
	NativeRTPAnnouncedIP string `yaml:"native_rtp_announced_ip"`
	MinPort              uint16 `yaml:"min_port"`
	MaxPort              uint16 `yaml:"max_port"`

	// STUNURL is passed to every server-side PeerConnection for candidate
	// gathering. TURNHost/TURNPort/TURNSecret mint ephemeral coturn
	// use-auth-secret credentials per connection (pionengine/turn.go);
	// TURN is skipped entirely when TURNHost is empty.
	STUNURL    string `yaml:"stun_url"`
	TURNHost   string `yaml:"turn_host"`
	TURNPort   int    `yaml:"turn_port"`
	TURNSecret string `yaml:"turn_secret"`
}

func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envUint16(key string, dst *uint16) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseUint(v, 10, 16); err == nil {
			*dst = uint16(i)
		}
	}
}

func envStringSlice(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		*dst = origins
	}
}

func (c *Config) applyEnvOverrides() {
	envString("YANKCORD_SERVER_NAME", &c.Server.Name)
	envString("YANKCORD_SERVER_BASE_URL", &c.Server.BaseURL)
	envStringSlice("YANKCORD_TRUSTED_PROXY_CIDRS", &c.Server.TrustedProxyCIDRs)
	envStringSlice("CORS_ALLOWED_ORIGINS", &c.Server.WebSocket.AllowedOrigins)

	envString("DATABASE_URL", &c.Database.Path)

	envString("JWT_SECRET", &c.Auth.JWTSecret)
	envString("SERVER_PASSWORD", &c.Auth.ServerPassword)

	envInt("MEDIA_WORKER_COUNT", &c.Media.WorkerCount)
	envString("NATIVE_RTP_LISTEN_IP", &c.Media.NativeRTPListenIP)
	envString("NATIVE_RTP_ANNOUNCED_IP", &c.Media.NativeRTPAnnouncedIP)
	envUint16("YANKCORD_SFU_MIN_PORT", &c.Media.MinPort)
	envUint16("YANKCORD_SFU_MAX_PORT", &c.Media.MaxPort)
	envString("YANKCORD_STUN_URL", &c.Media.STUNURL)
	envString("TURN_HOST", &c.Media.TURNHost)
	envInt("TURN_PORT", &c.Media.TURNPort)
	envString("TURN_SECRET", &c.Media.TURNSecret)
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if len(c.Server.WebSocket.AllowedOrigins) == 0 {
		return fmt.Errorf("server.websocket.allowed_origins must list at least one explicit origin")
	}
	for _, origin := range c.Server.WebSocket.AllowedOrigins {
		if strings.Contains(origin, "*") {
			return fmt.Errorf("server.websocket.allowed_origins must not contain wildcards: %q", origin)
		}
		if _, err := url.ParseRequestURI(origin); err != nil {
			return fmt.Errorf("server.websocket.allowed_origins contains invalid origin %q: %w", origin, err)
		}
	}
	for _, cidr := range c.Server.TrustedProxyCIDRs {
		trimmed := strings.TrimSpace(cidr)
		if trimmed == "" {
			continue
		}
		if ip := net.ParseIP(trimmed); ip != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(trimmed); err != nil {
			return fmt.Errorf("server.trusted_proxy_cidrs contains invalid CIDR or IP %q: %w", trimmed, err)
		}
	}
	if c.Media.MinPort != 0 && c.Media.MaxPort != 0 && c.Media.MinPort >= c.Media.MaxPort {
		return fmt.Errorf("media.min_port must be less than media.max_port")
	}
	if c.Media.TURNHost != "" && c.Media.TURNSecret == "" {
		return fmt.Errorf("media.turn_secret is required when media.turn_host is set")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "Yankcord"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/yankcord.db"
	}
	if c.Media.WorkerCount == 0 {
		c.Media.WorkerCount = 2
	}
	if c.Media.NativeRTPListenIP == "" {
		c.Media.NativeRTPListenIP = "0.0.0.0"
	}
	if c.Media.MinPort == 0 {
		c.Media.MinPort = 50000
	}
	if c.Media.MaxPort == 0 {
		c.Media.MaxPort = 50100
	}
	if c.Media.TURNPort == 0 {
		c.Media.TURNPort = 3478
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
