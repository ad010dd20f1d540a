package env

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"

	"github.com/luma/conduit/client"
)

// Config is read from, in increasing priority: the defaults, a YAML file
// and CONDUIT_* environment variables (.env.local included).
type Config struct {
	Addr       string `json:"addr,omitempty" env:"CONDUIT_ADDR"`
	Username   string `json:"username,omitempty" env:"CONDUIT_USERNAME"`
	Password   string `json:"password,omitempty" env:"CONDUIT_PASSWORD"`
	DB         int    `json:"db,omitempty" env:"CONDUIT_DB"`
	ClientName string `json:"clientName,omitempty" env:"CONDUIT_CLIENT_NAME"`
	Protocol   int    `json:"protocol,omitempty" env:"CONDUIT_PROTOCOL"`

	ConnectTimeout Duration `json:"connectTimeout,omitempty" env:"CONDUIT_CONNECT_TIMEOUT"`
	WriteTimeout   Duration `json:"writeTimeout,omitempty" env:"CONDUIT_WRITE_TIMEOUT"`
	CommandTimeout Duration `json:"commandTimeout,omitempty" env:"CONDUIT_COMMAND_TIMEOUT"`

	RequestQueueSize int  `json:"requestQueueSize,omitempty" env:"CONDUIT_REQUEST_QUEUE_SIZE"`
	DisableReconnect bool `json:"disableReconnect,omitempty" env:"CONDUIT_DISABLE_RECONNECT"`
	NoRetryUnsent    bool `json:"noRetryUnsent,omitempty" env:"CONDUIT_NO_RETRY_UNSENT"`
	RetrySent        bool `json:"retrySent,omitempty" env:"CONDUIT_RETRY_SENT"`

	Debug bool `json:"debug,omitempty" env:"CONDUIT_DEBUG"`

	Server ServerConfig `json:"server"`
}

type ServerConfig struct {
	Host      string `json:"host,omitempty" env:"CONDUIT_SERVER_HOST"`
	Port      int    `json:"port,omitempty" env:"CONDUIT_SERVER_PORT"`
	HTTPPort  int    `json:"httpPort,omitempty" env:"CONDUIT_SERVER_HTTP_PORT"`
	Password  string `json:"password,omitempty" env:"CONDUIT_SERVER_PASSWORD"`
	Reuseport bool   `json:"reuseport,omitempty" env:"CONDUIT_SERVER_REUSEPORT"`
	Listeners int    `json:"listeners,omitempty" env:"CONDUIT_SERVER_LISTENERS"`

	// SnapshotPath is loaded on start and written on shutdown when set
	SnapshotPath string `json:"snapshotPath,omitempty" env:"CONDUIT_SERVER_SNAPSHOT"`
	DebugHTTP    bool   `json:"debugHTTP,omitempty" env:"CONDUIT_DEBUG_HTTP"`
}

func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:6379",
		Protocol:       2,
		ConnectTimeout: Duration(5 * time.Second),
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     6379,
			HTTPPort: 7362,
		},
	}
}

// LoadConfig builds the Config. path names an optional YAML file, empty
// skips it.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	config := DefaultConfig()

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load .env.local: %w", err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Environment variables are decoded on their own and laid over the
	// file, envconfig leaves fields that are already set alone.
	fromEnv := Config{}
	if err := envconfig.Process(ctx, &fromEnv); err != nil {
		return nil, err
	}

	if err := overlay(&config, &fromEnv); err != nil {
		return nil, err
	}

	return &config, nil
}

// overlay copies the non-zero fields of src onto dst.
func overlay(dst, src *Config) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// ClientOptions maps the Config onto client.Options.
func (c *Config) ClientOptions(log *zap.Logger) client.Options {
	opts := client.DefaultOptions(c.Addr)

	opts.Username = c.Username
	opts.Password = c.Password
	opts.DB = c.DB
	opts.ClientName = c.ClientName
	opts.Protocol = c.Protocol
	opts.ConnectTimeout = time.Duration(c.ConnectTimeout)
	opts.WriteTimeout = time.Duration(c.WriteTimeout)
	opts.CommandTimeout = time.Duration(c.CommandTimeout)
	opts.RequestQueueSize = c.RequestQueueSize
	opts.AutoReconnect = !c.DisableReconnect
	opts.RetryUnsent = !c.NoRetryUnsent
	opts.RetrySent = c.RetrySent
	opts.Log = log

	return opts
}

// Duration reads "5s" style strings from YAML and the environment.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	if d == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Plain numbers are nanoseconds
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid duration %s", data)
		}
		*d = Duration(n)
		return nil
	}

	if s == "" {
		return nil
	}
	return d.EnvDecode(s)
}

func (d *Duration) EnvDecode(val string) error {
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
