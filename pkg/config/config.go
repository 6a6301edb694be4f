package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// The server is always run inside a container, so the process environment is
// the single source of configuration. Every field is required: a missing or
// empty variable is a deployment error and aborts startup.

// DatabaseConfig holds the Postgres endpoint and credentials
type DatabaseConfig struct {
	Host string
	Port int
	Name string
	User string
	Pass string
}

// RenderConfig holds the scratch directory and render binary location
type RenderConfig struct {
	UploadFacility string
	BlenderBin     string
}

// UserAddConfig holds bootstrap credentials for the provisioning utility
type UserAddConfig struct {
	User     string
	Password string
}

func requireString(v *viper.Viper, key string) (string, error) {
	if err := v.BindEnv(key); err != nil {
		return "", err
	}
	val := v.GetString(key)
	if val == "" {
		return "", fmt.Errorf("required environment variable %s is missing or empty", key)
	}
	return val, nil
}

func requireInt(v *viper.Viper, key string) (int, error) {
	raw, err := requireString(v, key)
	if err != nil {
		return 0, err
	}
	val := v.GetInt(key)
	if val <= 0 {
		return 0, fmt.Errorf("environment variable %s is not a positive integer: %q", key, raw)
	}
	return val, nil
}

// LoadDatabase reads DB_HOST, DB_PORT, DB_NAME, DB_USER, DB_PASS
func LoadDatabase() (*DatabaseConfig, error) {
	v := viper.New()
	cfg := &DatabaseConfig{}

	var err error
	if cfg.Host, err = requireString(v, "DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Port, err = requireInt(v, "DB_PORT"); err != nil {
		return nil, err
	}
	if cfg.Name, err = requireString(v, "DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.User, err = requireString(v, "DB_USER"); err != nil {
		return nil, err
	}
	if cfg.Pass, err = requireString(v, "DB_PASS"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRender reads UPLOAD_FACILITY and BLENDER_BIN
func LoadRender() (*RenderConfig, error) {
	v := viper.New()
	cfg := &RenderConfig{}

	var err error
	if cfg.UploadFacility, err = requireString(v, "UPLOAD_FACILITY"); err != nil {
		return nil, err
	}
	if cfg.BlenderBin, err = requireString(v, "BLENDER_BIN"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUserAdd reads GLACIER_USER and GLACIER_PASSWORD
func LoadUserAdd() (*UserAddConfig, error) {
	v := viper.New()
	cfg := &UserAddConfig{}

	var err error
	if cfg.User, err = requireString(v, "GLACIER_USER"); err != nil {
		return nil, err
	}
	if cfg.Password, err = requireString(v, "GLACIER_PASSWORD"); err != nil {
		return nil, err
	}
	return cfg, nil
}
