package config

import (
	"fmt"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Public  Public
	Private Private
}

type Public struct {
	LogLevel       string        `yaml:"log_level"`
	LogJSON        bool          `yaml:"log_json"`
	HTTPAddr       string        `yaml:"http_addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	JwtTTL         time.Duration `yaml:"jwt_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	HSTS           bool          `yaml:"hsts"`

	// per actor, shared by every send and vote route
	SendRatePerMinute int `yaml:"send_rate_per_minute"`

	// thread view refresh period while a poll is on screen
	PollRefreshInterval      time.Duration `yaml:"poll_refresh_interval"`
	BlockListRefreshInterval time.Duration `yaml:"block_list_refresh_interval"`
	// a session with no open thread view is dropped after this long unused
	MessengerIdleTimeout time.Duration `yaml:"messenger_idle_timeout"`
	PreviewLength        int           `yaml:"preview_length"` // runes of the last message shown in the directory
	MaxAttachmentSize    int64         `yaml:"max_attachment_size"`
	MaxPollOptions       int           `yaml:"max_poll_options"`

	MediaRoot      string `yaml:"media_root"`
	MediaURLPrefix string `yaml:"media_url_prefix"`
}

type Pg struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Dbname   string `yaml:"dbname"`
}

type Private struct {
	Pg     Pg     `yaml:"pg"`
	JwtKey string `yaml:"jwt_key"`
}

func (c *Config) JwtKey() string {
	return c.Private.JwtKey
}

func (c *Config) JwtTTL() time.Duration {
	return c.Public.JwtTTL
}

// ApplyDefaults fills zero values.
func (p *Public) ApplyDefaults() {
	if p.LogLevel == "" {
		p.LogLevel = "info"
	}
	if p.HTTPAddr == "" {
		p.HTTPAddr = ":8080"
	}
	if p.JwtTTL == 0 {
		p.JwtTTL = 24 * time.Hour
	}
	if p.RequestTimeout == 0 {
		p.RequestTimeout = 10 * time.Second
	}
	if p.SendRatePerMinute == 0 {
		p.SendRatePerMinute = 60
	}
	if p.PollRefreshInterval == 0 {
		p.PollRefreshInterval = 5 * time.Second
	}
	if p.BlockListRefreshInterval == 0 {
		p.BlockListRefreshInterval = time.Minute
	}
	if p.MessengerIdleTimeout == 0 {
		p.MessengerIdleTimeout = 10 * p.BlockListRefreshInterval
	}
	if p.PreviewLength == 0 {
		p.PreviewLength = 80
	}
	if p.MaxAttachmentSize == 0 {
		p.MaxAttachmentSize = 10 << 20
	}
	if p.MaxPollOptions == 0 {
		p.MaxPollOptions = 10
	}
	if p.MediaRoot == "" {
		p.MediaRoot = "media"
	}
	if p.MediaURLPrefix == "" {
		p.MediaURLPrefix = "/media/"
	}
}

func (p *Private) validate() error {
	if p.JwtKey == "" {
		return fmt.Errorf("jwt_key is required")
	}
	if p.Pg.Host == "" || p.Pg.Dbname == "" {
		return fmt.Errorf("pg.host and pg.dbname are required")
	}
	return nil
}

func mustLoadPath(configPath string, output interface{}) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		panic("can't read config file: " + configPath)
	}

	if err := yaml.UnmarshalStrict(configFile, output); err != nil {
		panic(fmt.Sprintf("can't unmarshal config file %s: %v", configPath, err))
	}
}

func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)
	public.ApplyDefaults()

	var private Private
	mustLoadPath(path.Join(configFolder, "private.yaml"), &private)
	if err := private.validate(); err != nil {
		panic("invalid private config: " + err.Error())
	}

	return &Config{Public: public, Private: private}
}
