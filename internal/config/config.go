package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/danmaku/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrNoRoom = errors.New("room.ref is required")

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Listen     string        `mapstructure:"listen"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Room     RoomConfig     `mapstructure:"room"`
	Endpoint EndpointConfig `mapstructure:"endpoint"`
	API      APIConfig      `mapstructure:"api"`
	Timing   TimingConfig   `mapstructure:"timing"`
}

type RoomConfig struct {
	Ref      string `mapstructure:"ref"`
	Direct   bool   `mapstructure:"direct"`
	UserID   int64  `mapstructure:"user_id"`
	AnchorID int64  `mapstructure:"anchor_id"`
	Fans     bool   `mapstructure:"fans"`
	TLS      bool   `mapstructure:"tls"`
}

type EndpointConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	TLSPort int    `mapstructure:"tls_port"`
	Path    string `mapstructure:"path"`
}

type APIConfig struct {
	Host     string        `mapstructure:"host"`
	FansHost string        `mapstructure:"fans_host"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type TimingConfig struct {
	Reconnect time.Duration `mapstructure:"reconnect"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	GiftQuiet time.Duration `mapstructure:"gift_quiet"`
	FansPoll  time.Duration `mapstructure:"fans_poll"`
}

// Addr is the relay listen address; Listen wins over Port.
func (c *Config) Addr() string {
	if c.Listen != "" {
		return c.Listen
	}
	return fmt.Sprintf(":%d", c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("listen", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "danmaku-relay")

	v.SetDefault("room.ref", "")
	v.SetDefault("room.direct", false)
	v.SetDefault("room.user_id", 0)
	v.SetDefault("room.anchor_id", 0)
	v.SetDefault("room.fans", true)
	v.SetDefault("room.tls", false)

	v.SetDefault("endpoint.host", "broadcastlv.chat.bilibili.com")
	v.SetDefault("endpoint.port", 2244)
	v.SetDefault("endpoint.tls_port", 2245)
	v.SetDefault("endpoint.path", "sub")

	v.SetDefault("api.host", "api.live.bilibili.com")
	v.SetDefault("api.fans_host", "api.bilibili.com")
	v.SetDefault("api.timeout", "5s")

	v.SetDefault("timing.reconnect", "3s")
	v.SetDefault("timing.heartbeat", "30s")
	v.SetDefault("timing.gift_quiet", "3s")
	v.SetDefault("timing.fans_poll", "5s")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then DANMAKU_* environment
// variables, then the command line flags in args.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("DANMAKU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fs := pflag.NewFlagSet("danmaku", pflag.ContinueOnError)
	fs.String("room", "", "room reference (short id or room id)")
	fs.Bool("direct", false, "treat --room as the numeric room id and skip resolution")
	fs.String("listen", "", "relay listen address, e.g. :8080")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	for key, name := range map[string]string{"room.ref": "room", "room.direct": "direct", "listen": "listen"} {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Str("addr", cfg.Addr()).
		Str("room", cfg.Room.Ref).
		Bool("direct", cfg.Room.Direct).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Room.Ref == "" {
		return ErrNoRoom
	}
	if err := domain.ValidateUserID(c.Room.UserID); err != nil {
		return fmt.Errorf("room.user_id %d: %w", c.Room.UserID, err)
	}
	return nil
}
