package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `yaml:"env" env-default:"local"`
	Storage     string `yaml:"storage" env-default:"memory"`
	StoragePath string `yaml:"storage_path"`
	Revocations string `yaml:"revocations" env-default:"embedded"`
	BcryptCost  int    `yaml:"bcrypt_cost" env-default:"10"`

	HTTP      HTTPConfig      `yaml:"http"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Redis     RedisConfig     `yaml:"redis"`
	Tokens    TokensConfig    `yaml:"tokens"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Events    EventsConfig    `yaml:"events"`
}

type HTTPConfig struct {
	Port    int           `yaml:"port" env-default:"8080"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env-default:"insight"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
}

type TokensConfig struct {
	AccessSecret  string        `yaml:"access_secret" env:"ACCESS_TOKEN_SECRET"`
	RefreshSecret string        `yaml:"refresh_secret" env:"REFRESH_TOKEN_SECRET"`
	AccessTTL     time.Duration `yaml:"access_ttl" env-default:"15m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env-default:"720h"`
}

type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests" env-default:"20"`
	Window   time.Duration `yaml:"window" env-default:"1m"`
}

type EventsConfig struct {
	Driver string `yaml:"driver" env-default:"none"`
}

func LoadConfig(path string) *Config {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found: " + path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	cfg.validate()

	return &cfg
}

func (c *Config) validate() {
	if c.Tokens.AccessSecret == "" || c.Tokens.RefreshSecret == "" {
		panic("token secrets must be set")
	}

	if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		panic("access and refresh token secrets must differ")
	}

	if c.Storage == "sqlite" && c.StoragePath == "" {
		panic("sqlite storage requires storage_path")
	}

	if c.Storage == "mongo" && c.Mongo.URI == "" {
		panic("mongo storage requires mongo.uri")
	}
}
