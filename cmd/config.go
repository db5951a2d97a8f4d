// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/LeeDigitalWorks/vospace/pkg/auth"
	"github.com/LeeDigitalWorks/vospace/pkg/events"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/regions"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/utils"
)

var validate = validator.New()

// ServerConfig is the configuration of the server command. Every field is
// read from viper, so it can come from vospace.yaml, VOSPACE_* variables
// or flags.
type ServerConfig struct {
	HTTPAddr  string `mapstructure:"http_addr" validate:"required,hostname_port"`
	DebugAddr string `mapstructure:"debug_addr" validate:"omitempty,hostname_port"`
	AppURL    string `mapstructure:"app_url" validate:"required,url"`
	Authority string `mapstructure:"authority" validate:"required"`

	BulkAddr      string        `mapstructure:"bulk_addr" validate:"omitempty,hostname_port"`
	BulkEndpoint  string        `mapstructure:"bulk_endpoint"`
	BulkWorkers   int           `mapstructure:"bulk_workers" validate:"gte=0"`
	BulkRateLimit string        `mapstructure:"bulk_rate_limit"`
	BulkIdle      time.Duration `mapstructure:"bulk_idle_timeout" validate:"gte=0"`

	TaskWorkers int `mapstructure:"task_workers" validate:"gte=0"`

	DB      db.Config           `mapstructure:"db"`
	Storage types.BackendConfig `mapstructure:"storage"`
	Region  regions.Config      `mapstructure:"region"`
	Auth    auth.Config         `mapstructure:"auth"`
	Events  events.Config       `mapstructure:"events"`

	// RedisAddr is used by the redis region registry.
	RedisAddr     string `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string `mapstructure:"redis_password"`

	bulkRate int64
}

// BulkRate is bulk_rate_limit in bytes per second, 0 for unlimited.
func (c *ServerConfig) BulkRate() int64 { return c.bulkRate }

// LoadServerConfig unmarshals the merged viper state and validates it.
func LoadServerConfig(v *viper.Viper) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ServerConfig) applyDefaults() {
	c.AppURL = strings.TrimSuffix(c.AppURL, "/")
	if c.DB.Driver == "" {
		c.DB.Driver = db.DriverMemory
	}
	d := db.DefaultConfig(c.DB.Driver)
	if c.DB.MaxOpenConns == 0 {
		c.DB.MaxOpenConns = d.MaxOpenConns
	}
	if c.DB.MaxIdleConns == 0 {
		c.DB.MaxIdleConns = d.MaxIdleConns
	}
	if c.DB.ConnMaxLifetime == 0 {
		c.DB.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if c.DB.ConnMaxIdleTime == 0 {
		c.DB.ConnMaxIdleTime = d.ConnMaxIdleTime
	}
	if c.Storage.Type == "" {
		c.Storage.Type = types.StorageTypeMemory
	}
	if c.BulkEndpoint == "" && c.BulkAddr != "" {
		c.BulkEndpoint = utils.AdvertiseAddr(c.BulkAddr, utils.DetectedHostAddress())
	}
	if c.Region.Name != "" {
		if c.Region.URL == "" {
			c.Region.URL = c.AppURL
		}
		if c.Region.BulkAddr == "" {
			c.Region.BulkAddr = c.BulkEndpoint
		}
		if c.Region.Registry == "" {
			c.Region.Registry = "static"
		}
	}
	c.Events.Validate()
}

// Validate checks struct tags, then the rules that span fields.
func (c *ServerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	rate, err := utils.ParseByteSize(c.BulkRateLimit)
	if err != nil {
		return fmt.Errorf("bulk_rate_limit: %w", err)
	}
	c.bulkRate = rate
	if u, err := url.Parse(c.AppURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("app_url: must be an http or https URL")
	}
	switch c.DB.Driver {
	case db.DriverMemory:
	case db.DriverPostgres, db.DriverMySQL:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn: required for driver %s", c.DB.Driver)
		}
	default:
		return fmt.Errorf("db.driver: unknown driver %q", c.DB.Driver)
	}
	switch c.Storage.Type {
	case types.StorageTypeMemory:
	case types.StorageTypeLocal:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path: required for local storage")
		}
	case types.StorageTypeS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket: required for s3 storage")
		}
	default:
		return fmt.Errorf("storage.type: unknown type %q", c.Storage.Type)
	}
	if c.Region.Name != "" {
		switch c.Region.Registry {
		case "static":
		case "redis":
			if c.RedisAddr == "" {
				return fmt.Errorf("redis_addr: required for the redis region registry")
			}
		default:
			return fmt.Errorf("region.registry: unknown registry %q", c.Region.Registry)
		}
	}
	if c.Auth.JWTSecret == "" && !c.Auth.TrustHeaders {
		return fmt.Errorf("auth: set auth.jwt_secret or auth.trust_headers")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret: must be at least %d bytes", auth.MinSecretLength)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
