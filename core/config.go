package core

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local"`
	Telegram struct {
		Token           string `yaml:"token" env:"TELEGRAM_TOKEN" env-default:""`
		Hostname        string `yaml:"hostname" env:"TELEGRAM_HOSTNAME" env-default:"localhost"`
		Port            string `yaml:"port" env:"TELEGRAM_PORT" env-default:"8443"`
		Listen          string `yaml:"listen" env:"TELEGRAM_LISTEN" env-default:"0.0.0.0"`
		RegisterWebhook bool   `yaml:"register_webhook" env:"TELEGRAM_REGISTER_WEBHOOK" env-default:"false"`
		Certificate     string `yaml:"certificate" env:"TELEGRAM_CERTIFICATE" env-default:"cert/public.pem"`
		MaxConnections  int    `yaml:"max_connections" env-default:"50"`
	} `yaml:"telegram"`
	TLS struct {
		Keystore         string `yaml:"keystore" env:"TLS_KEYSTORE" env-default:"cert/keystore.p12"`
		KeystorePassword string `yaml:"keystore_password" env:"TLS_KEYSTORE_PASSWORD" env-default:""`
		KeyAlias         string `yaml:"key_alias" env:"TLS_KEY_ALIAS" env-default:""`
		CertFile         string `yaml:"cert_file" env:"TLS_CERT_FILE" env-default:""`
		KeyFile          string `yaml:"key_file" env:"TLS_KEY_FILE" env-default:""`
	} `yaml:"tls"`
	Storage struct {
		Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	} `yaml:"storage"`
	Mongo struct {
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:"admin"`
		Password string `yaml:"password" env-default:"pass"`
		Database string `yaml:"database" env-default:"painter"`
	} `yaml:"mongo"`
	SQLite struct {
		Path string `yaml:"path" env:"SQLITE_PATH" env-default:"./data/painter.db"`
	} `yaml:"sqlite"`
	Generator struct {
		Backend       string        `yaml:"backend" env:"GENERATOR_BACKEND" env-default:"process"`
		Command       []string      `yaml:"command" env:"GENERATOR_COMMAND" env-default:"python,txt2img.py"`
		OutputDir     string        `yaml:"output_dir" env:"GENERATOR_OUTPUT_DIR" env-default:"users"`
		Timeout       time.Duration `yaml:"timeout" env:"GENERATOR_TIMEOUT" env-default:"10m"`
		MaxConcurrent int64         `yaml:"max_concurrent" env:"GENERATOR_MAX_CONCURRENT" env-default:"2"`
		WebUIURL      string        `yaml:"webui_url" env:"GENERATOR_WEBUI_URL" env-default:"http://127.0.0.1:7860"`
		Model         string        `yaml:"model" env-default:"realisticVisionV20_v20.safetensors [c0d1994c73]"`
		Steps         int           `yaml:"steps" env-default:"20"`
		CfgScale      float64       `yaml:"cfg_scale" env-default:"7"`
		Sampler       string        `yaml:"sampler" env-default:"Euler a"`
	} `yaml:"generator"`
	Queue struct {
		Size int `yaml:"size" env-default:"16"`
	} `yaml:"queue"`
}

var instance *Config
var once sync.Once

func GetConfig(path string) (*Config, error) {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			return
		}
		if err = instance.Validate(); err != nil {
			instance = nil
		}
	})
	return instance, err
}

// MustLoad reads the config file or terminates the process.
func MustLoad(path string) *Config {
	conf, err := GetConfig(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return conf
}

func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("config: telegram.token is required")
	}
	if p, err := strconv.Atoi(c.Telegram.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("config: invalid telegram.port %q", c.Telegram.Port)
	}
	switch c.Storage.Driver {
	case StorageMemory, StorageMongo, StorageSQLite:
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Generator.Backend {
	case BackendProcess:
		if len(c.Generator.Command) == 0 {
			return errors.New("config: generator.command is empty")
		}
	case BackendWebUI:
		if c.Generator.WebUIURL == "" {
			return errors.New("config: generator.webui_url is empty")
		}
	default:
		return fmt.Errorf("config: unknown generator.backend %q", c.Generator.Backend)
	}
	if c.Generator.MaxConcurrent <= 0 {
		c.Generator.MaxConcurrent = 1
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 16
	}
	return nil
}

// WebhookURL is the address the platform posts updates to.
func (c *Config) WebhookURL() string {
	return fmt.Sprintf("https://%s:%s/%s", c.Telegram.Hostname, c.Telegram.Port, c.Telegram.Token)
}

const (
	StorageMemory = "memory"
	StorageMongo  = "mongo"
	StorageSQLite = "sqlite"

	BackendProcess = "process"
	BackendWebUI   = "webui"
)
