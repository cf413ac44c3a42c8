// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads server configuration.
//
// Sources are applied in order, later ones winning:
//   - built-in defaults
//   - a YAML file named by --config
//   - environment variables (a .env file in the working directory is loaded
//     first if present)
//   - the --port flag
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Push queue backends.
const (
	PushQueueInline = "inline"
	PushQueueAsynq  = "asynq"
)

// Realtime fan-out modes.
const (
	FanoutLocal = "local"
	FanoutRedis = "redis"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	JWT      JWTConfig      `yaml:"jwt"`
	Push     PushConfig     `yaml:"push"`
	Realtime RealtimeConfig `yaml:"realtime"`

	AllowedOrigins []string `yaml:"allowed_origins"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// PushConfig holds the VAPID key pair. Push is disabled unless both keys are
// set.
type PushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	VAPIDSubject    string `yaml:"vapid_subject"`
	Queue           string `yaml:"queue"`
	Concurrency     int    `yaml:"concurrency"`
}

type RealtimeConfig struct {
	Fanout string `yaml:"fanout"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Port:        "8081",
		DatabaseURL: "postgres://localhost/efteam?sslmode=disable",
		RedisURL:    "redis://localhost:6379/0",
		JWT:         JWTConfig{Issuer: "efchat"},
		Push: PushConfig{
			VAPIDSubject: "mailto:admin@efchat.net",
			Queue:        PushQueueInline,
			Concurrency:  10,
		},
		Realtime:       RealtimeConfig{Fanout: FanoutLocal},
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

// Load builds the configuration from args (without the program name) and the
// process environment.
func Load(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("efteam", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML configuration file")
	port := flags.String("port", "", "HTTP listen port (overrides PORT)")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if *port != "" {
		cfg.Port = *port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("JWT_SECRET", &c.JWT.Secret)
	str("JWT_ISSUER", &c.JWT.Issuer)
	str("VAPID_PUBLIC_KEY", &c.Push.VAPIDPublicKey)
	str("VAPID_PRIVATE_KEY", &c.Push.VAPIDPrivateKey)
	str("VAPID_SUBJECT", &c.Push.VAPIDSubject)
	str("PUSH_QUEUE", &c.Push.Queue)
	str("REALTIME_FANOUT", &c.Realtime.Fanout)

	if v, ok := lookup("PUSH_CONCURRENCY"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PUSH_CONCURRENCY: %w", err)
		}
		c.Push.Concurrency = n
	}

	if v, ok := lookup("ALLOWED_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.AllowedOrigins = origins
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	switch c.Push.Queue {
	case PushQueueInline, PushQueueAsynq:
	default:
		errs = append(errs, fmt.Errorf("unknown push queue %q", c.Push.Queue))
	}
	switch c.Realtime.Fanout {
	case FanoutLocal, FanoutRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown realtime fanout %q", c.Realtime.Fanout))
	}
	if c.Push.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("push concurrency must be positive, got %d", c.Push.Concurrency))
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together"))
	}
	return errors.Join(errs...)
}

// PushEnabled reports whether web push can be signed.
func (c *Config) PushEnabled() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Realtime.Fanout == FanoutRedis || (c.PushEnabled() && c.Push.Queue == PushQueueAsynq)
}
