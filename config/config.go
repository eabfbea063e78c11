package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Session SessionConfig `mapstructure:"session"`
}

type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	GraphQLPath   string `mapstructure:"graphql_path"`
	WebSocketPath string `mapstructure:"websocket_path"`
}

type MySQLConfig struct {
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	// 会话快照缓存Redis
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type SessionConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	MaxStories      int           `mapstructure:"max_stories"`
	MaxParticipants int           `mapstructure:"max_participants"`
	MaxAliasLength  int           `mapstructure:"max_alias_length"`
}

var AppConfig Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()

	viper.SetDefault("server.graphql_path", "/graphql")
	viper.SetDefault("server.websocket_path", "/ws")
	viper.SetDefault("session.cache_ttl", time.Hour)
	viper.SetDefault("session.lock_timeout", 5*time.Second)
	viper.SetDefault("session.max_stories", 100)
	viper.SetDefault("session.max_participants", 50)
	viper.SetDefault("session.max_alias_length", 32)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &AppConfig, nil
}
