package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Game       GameConfig       `mapstructure:"game"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	VoteKick   VoteKickConfig   `mapstructure:"votekick"`
	Sanction   SanctionConfig   `mapstructure:"sanction"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress    string   `mapstructure:"http_address"`
	RPCAddress     string   `mapstructure:"rpc_address"`
	MetricsAddress string   `mapstructure:"metrics_address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	// Driver is one of "postgres", "sqlite" or "memory".
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Sqlite   SqliteConfig   `mapstructure:"sqlite"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type SqliteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type GameConfig struct {
	TurnTimeLimit       time.Duration `mapstructure:"turn_time_limit"`
	WatchdogInterval    time.Duration `mapstructure:"watchdog_interval"`
	AFKKickAfter        int           `mapstructure:"afk_kick_after"`
	DefaultVariant      string        `mapstructure:"default_variant"`
	ProtectionThreshold int           `mapstructure:"protection_threshold"`
	MinPlayers          int           `mapstructure:"min_players"`
	MaxPlayers          int           `mapstructure:"max_players"`
}

type ModerationConfig struct {
	SpamLimit           int           `mapstructure:"spam_limit"`
	SpamWindow          time.Duration `mapstructure:"spam_window"`
	SpamBackend         string        `mapstructure:"spam_backend"`
	CensorshipThreshold int           `mapstructure:"censorship_threshold"`
	WordListPath        string        `mapstructure:"word_list_path"`
	PunishmentKicks     bool          `mapstructure:"punishment_kicks"`
	MaxMessageLength    int           `mapstructure:"max_message_length"`
}

type VoteKickConfig struct {
	MinPlayers int `mapstructure:"min_players"`
	// Window bounds how long a vote may stay open. Zero keeps votes open
	// until every eligible player has voted.
	Window time.Duration `mapstructure:"window"`
}

type SanctionConfig struct {
	TemporaryDuration  time.Duration `mapstructure:"temporary_duration"`
	EscalationStep     int           `mapstructure:"escalation_step"`
	PermanentThreshold int           `mapstructure:"permanent_threshold"`
}

type ArchiveConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.metrics_address", ":9090")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "goose")
	v.SetDefault("database.postgres.dbname", "goose")
	v.SetDefault("database.sqlite.path", "goose.db")

	v.SetDefault("redis.address", "localhost:6379")

	v.SetDefault("game.turn_time_limit", 20*time.Second)
	v.SetDefault("game.watchdog_interval", time.Second)
	v.SetDefault("game.afk_kick_after", 3)
	v.SetDefault("game.default_variant", "classic")
	v.SetDefault("game.protection_threshold", 55)
	v.SetDefault("game.min_players", 2)
	v.SetDefault("game.max_players", 4)

	v.SetDefault("moderation.spam_limit", 5)
	v.SetDefault("moderation.spam_window", 20*time.Second)
	v.SetDefault("moderation.spam_backend", "memory")
	v.SetDefault("moderation.censorship_threshold", 5)
	v.SetDefault("moderation.punishment_kicks", false)
	v.SetDefault("moderation.max_message_length", 200)

	v.SetDefault("votekick.min_players", 3)
	v.SetDefault("votekick.window", time.Duration(0))

	v.SetDefault("sanction.temporary_duration", 24*time.Hour)
	v.SetDefault("sanction.escalation_step", 3)
	v.SetDefault("sanction.permanent_threshold", 10)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path. A missing file is not an error:
// defaults and GOOSE_* environment variables still apply. An optional .env
// in the working directory is loaded first.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("goose")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
