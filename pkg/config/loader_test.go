package config_test

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egglogu/billing/pkg/config"
)

type defaultsConfig struct {
	Name    string `env:"CFG_TEST_NAME" envDefault:"billing"`
	Workers int    `env:"CFG_TEST_WORKERS" envDefault:"4"`
}

type overrideConfig struct {
	Name string `env:"CFG_TEST_OVERRIDE" envDefault:"default"`
}

type requiredConfig struct {
	Secret string `env:"CFG_TEST_REQUIRED,required"`
}

type validatedConfig struct {
	Min int `env:"CFG_TEST_MIN" envDefault:"5"`
	Max int `env:"CFG_TEST_MAX" envDefault:"1"`
}

func (c *validatedConfig) Validate() error {
	if c.Min > c.Max {
		return errors.New("min greater than max")
	}
	return nil
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		os.Unsetenv("CFG_TEST_NAME")
		os.Unsetenv("CFG_TEST_WORKERS")

		var cfg defaultsConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "billing", cfg.Name)
		assert.Equal(t, 4, cfg.Workers)
	})

	t.Run("environment wins and is cached", func(t *testing.T) {
		t.Setenv("CFG_TEST_OVERRIDE", "first")

		var cfg overrideConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "first", cfg.Name)

		t.Setenv("CFG_TEST_OVERRIDE", "second")
		var again overrideConfig
		require.NoError(t, config.Load(&again))
		assert.Equal(t, "first", again.Name)
	})

	t.Run("missing required", func(t *testing.T) {
		os.Unsetenv("CFG_TEST_REQUIRED")

		var cfg requiredConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)

		t.Setenv("CFG_TEST_REQUIRED", "now-set")
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "now-set", cfg.Secret)
	})

	t.Run("validation hook", func(t *testing.T) {
		var cfg validatedConfig
		err := config.Load(&cfg)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *defaultsConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})
}
