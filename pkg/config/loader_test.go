package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parishkit/parishkit/pkg/config"
)

type loaderTestConfig struct {
	Host string `env:"LOADER_TEST_HOST" envDefault:"localhost"`
	Port int    `env:"LOADER_TEST_PORT" envDefault:"5432"`
}

func TestLoadDefaults(t *testing.T) {
	var cfg loaderTestConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
}

type cachedTestConfig struct {
	Value string `env:"CACHED_TEST_VALUE" envDefault:"initial"`
}

func TestLoadCachesPerType(t *testing.T) {
	var first cachedTestConfig
	require.NoError(t, config.Load(&first))
	assert.Equal(t, "initial", first.Value)

	// Later env changes are invisible: the parsed value is cached.
	t.Setenv("CACHED_TEST_VALUE", "changed")
	var second cachedTestConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "initial", second.Value)
}

func TestLoadNilPointer(t *testing.T) {
	var cfg *loaderTestConfig
	err := config.Load(cfg)
	assert.ErrorIs(t, err, config.ErrNilPointer)
}
