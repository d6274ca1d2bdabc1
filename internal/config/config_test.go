package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv() {
	envVars := []string{
		"COORDINATOR_HOST", "COORDINATOR_PORT", "COORDINATOR_READ_TIMEOUT",
		"COORDINATOR_WRITE_TIMEOUT", "COORDINATOR_SHUTDOWN_TIMEOUT", "COORDINATOR_CORS_ENABLED",
		"CACHE_DIR", "CACHE_MAX_BYTES", "STORE_DIR",
		"REDIS_URL", "REDIS_PASSWORD", "REDIS_DB",
		"WORKER_BASE_URL", "WORKER_TIMEOUT", "WORKER_MAX_FETCH_ROWS", "MAX_PARALLEL_NODES",
		"WORKER_HOST", "WORKER_PORT", "WORKER_MAX_IN_FLIGHT",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, key := range envVars {
		os.Unsetenv(key)
	}
}

func TestLoadCoordinator_DefaultValues(t *testing.T) {
	clearEnv()

	cfg, err := LoadCoordinator()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Server.CORS)

	assert.Equal(t, "./data/cache", cfg.Cache.Dir)
	assert.Equal(t, int64(1<<30), cfg.Cache.MaxBytes)
	assert.Equal(t, "./data/flows", cfg.Store.Dir)

	assert.Equal(t, "", cfg.Redis.URL)
	assert.Equal(t, "http://localhost:9090", cfg.Worker.BaseURL)
	assert.Equal(t, 4, cfg.Worker.MaxParallelRuns)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadCoordinator_CustomValues(t *testing.T) {
	clearEnv()

	os.Setenv("COORDINATOR_PORT", "9999")
	os.Setenv("CACHE_DIR", "/tmp/cache")
	os.Setenv("CACHE_MAX_BYTES", "2048")
	os.Setenv("STORE_DIR", "/tmp/flows")
	os.Setenv("REDIS_URL", "redis://localhost:6379")
	os.Setenv("WORKER_BASE_URL", "http://worker-1:9090")
	os.Setenv("MAX_PARALLEL_NODES", "8")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("LOG_FORMAT", "text")
	defer clearEnv()

	cfg, err := LoadCoordinator()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/tmp/cache", cfg.Cache.Dir)
	assert.Equal(t, int64(2048), cfg.Cache.MaxBytes)
	assert.Equal(t, "/tmp/flows", cfg.Store.Dir)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, "http://worker-1:9090", cfg.Worker.BaseURL)
	assert.Equal(t, 8, cfg.Worker.MaxParallelRuns)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadCoordinator_InvalidValuesUseDefaults(t *testing.T) {
	clearEnv()

	os.Setenv("COORDINATOR_PORT", "not_a_number")
	os.Setenv("COORDINATOR_READ_TIMEOUT", "not_a_duration")
	os.Setenv("COORDINATOR_CORS_ENABLED", "not_a_bool")
	defer clearEnv()

	cfg, err := LoadCoordinator()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Server.CORS)
}

func TestLoadWorker_DefaultValues(t *testing.T) {
	clearEnv()

	cfg, err := LoadWorker()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 4, cfg.MaxInFlight)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestCoordinatorConfig_Validate_InvalidPort(t *testing.T) {
	tests := []int{0, -1, 65536, 100000}
	for _, port := range tests {
		cfg := &CoordinatorConfig{
			Server:  ServerConfig{Port: port},
			Logging: LoggingConfig{Level: "info", Format: "json"},
		}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid port")
	}
}

func TestCoordinatorConfig_Validate_InvalidLogLevel(t *testing.T) {
	cfg := &CoordinatorConfig{
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "verbose", Format: "json"},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestCoordinatorConfig_Validate_InvalidLogFormat(t *testing.T) {
	cfg := &CoordinatorConfig{
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "yaml"},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestCoordinatorConfig_Validate_NegativeCacheBytes(t *testing.T) {
	cfg := &CoordinatorConfig{
		Server:  ServerConfig{Port: 8080},
		Cache:   CacheConfig{MaxBytes: -1},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_MAX_BYTES")
}

func TestCoordinatorConfig_Validate_Success(t *testing.T) {
	cfg := &CoordinatorConfig{
		Server:  ServerConfig{Port: 8080},
		Cache:   CacheConfig{MaxBytes: 1024},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
	assert.NoError(t, cfg.Validate())
}

func TestGetEnv_WithAndWithoutValue(t *testing.T) {
	os.Setenv("TEST_KEY", "test_value")
	defer os.Unsetenv("TEST_KEY")
	assert.Equal(t, "test_value", getEnv("TEST_KEY", "default"))

	os.Unsetenv("TEST_KEY")
	assert.Equal(t, "default", getEnv("TEST_KEY", "default"))
}

func TestGetEnvAsInt(t *testing.T) {
	os.Setenv("TEST_INT", "42")
	defer os.Unsetenv("TEST_INT")
	assert.Equal(t, 42, getEnvAsInt("TEST_INT", 10))

	os.Setenv("TEST_INT", "not_a_number")
	assert.Equal(t, 10, getEnvAsInt("TEST_INT", 10))
}

func TestGetEnvAsInt64(t *testing.T) {
	os.Setenv("TEST_INT64", "4294967296")
	defer os.Unsetenv("TEST_INT64")
	assert.Equal(t, int64(4294967296), getEnvAsInt64("TEST_INT64", 10))
}

func TestGetEnvAsBool(t *testing.T) {
	os.Setenv("TEST_BOOL", "true")
	defer os.Unsetenv("TEST_BOOL")
	assert.True(t, getEnvAsBool("TEST_BOOL", false))

	os.Setenv("TEST_BOOL", "invalid")
	assert.True(t, getEnvAsBool("TEST_BOOL", true))
}

func TestGetEnvAsDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "1h30m")
	defer os.Unsetenv("TEST_DURATION")
	assert.Equal(t, 90*time.Minute, getEnvAsDuration("TEST_DURATION", 10*time.Second))

	os.Setenv("TEST_DURATION", "invalid")
	assert.Equal(t, 10*time.Second, getEnvAsDuration("TEST_DURATION", 10*time.Second))
}
