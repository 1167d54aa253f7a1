package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Room     RoomConfig     `mapstructure:"room"`
	Client   ClientConfig   `mapstructure:"client"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

type DatabaseConfig struct {
	// Driver is one of "none", "gorm" or "sql".
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// RoomConfig holds the session timing and capacity knobs.
type RoomConfig struct {
	MaxRooms        int           `mapstructure:"max_rooms"`
	ReadyGrace      time.Duration `mapstructure:"ready_grace"`
	AbortGrace      time.Duration `mapstructure:"abort_grace"`
	CloseGrace      time.Duration `mapstructure:"close_grace"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	SendAttempts    int           `mapstructure:"send_attempts"`
	SendBackoff     time.Duration `mapstructure:"send_backoff"`
	SendQueue       int           `mapstructure:"send_queue"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
	TimerResolution time.Duration `mapstructure:"timer_resolution"`
}

type ClientConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	ResponseTimeout   time.Duration `mapstructure:"response_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	UserID            string        `mapstructure:"user_id"`
	DisplayName       string        `mapstructure:"display_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.metrics_address", ":9100")

	v.SetDefault("database.driver", "none")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "arcade")
	v.SetDefault("database.postgres.dbname", "arcade")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("room.max_rooms", 1000)
	v.SetDefault("room.ready_grace", 3*time.Second)
	v.SetDefault("room.abort_grace", 10*time.Second)
	v.SetDefault("room.close_grace", 2*time.Second)
	v.SetDefault("room.request_timeout", 3*time.Second)
	v.SetDefault("room.send_attempts", 3)
	v.SetDefault("room.send_backoff", 100*time.Millisecond)
	v.SetDefault("room.send_queue", 256)
	v.SetDefault("room.heartbeat", 30*time.Second)
	v.SetDefault("room.timer_resolution", 50*time.Millisecond)

	v.SetDefault("client.endpoint", "ws://localhost:8080/ws")
	v.SetDefault("client.response_timeout", 3*time.Second)
	v.SetDefault("client.reconnect_attempts", 5)
	v.SetDefault("client.reconnect_delay", time.Second)
}

// LoadConfig reads config.yaml from path. A missing file is not an error:
// defaults and ARCADE_* environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("arcade")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
