package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create temporary directory
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "parley.yml")

	// Write valid config
	validConfig := `version: "1.0"
instance: prod
backend:
  type: redis
  redis:
    url: redis://cache:6380
pipelines:
  preSendMessage:
    - stage: trim
    - stage: max-length
      limit: 140
`
	err := os.WriteFile(configPath, []byte(validConfig), 0644)
	require.NoError(t, err)

	// Load and validate
	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "1.0", config.Version)
	assert.Equal(t, "prod", config.Instance)
	assert.Equal(t, BackendRedis, config.Backend.Type)
	assert.Equal(t, "redis://cache:6380", config.Backend.Redis.URL)
	require.Len(t, config.Pipelines["preSendMessage"], 2)
	assert.Equal(t, "max-length", config.Pipelines["preSendMessage"][1].Stage)
	assert.Equal(t, 140, config.Pipelines["preSendMessage"][1].Limit)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/parley.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "parley.yml")

	// Write invalid YAML
	invalidYAML := `version: "1.0"
backend:
  - this is invalid
    yaml syntax
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestDefaultYAMLIsValid(t *testing.T) {
	config, err := Parse(DefaultYAML)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, config.Backend.Type)
	assert.Equal(t, DefaultSQLitePath, config.Backend.SQLite.Path)
	assert.Len(t, config.Pipelines["preSendMessage"], 3)
}

func TestDefault(t *testing.T) {
	config := Default()
	assert.Equal(t, "1.0", config.Version)
	assert.Equal(t, BackendMemory, config.Backend.Type)
	assert.NoError(t, config.Validate())
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	config := &Config{Version: "2.0"}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version: 2.0")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	config := &Config{Version: "1.0", LogLevel: "chatty"}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log_level")
}

func TestBackendValidate(t *testing.T) {
	testCases := []struct {
		name    string
		backend BackendConfig
		wantErr string
		check   func(t *testing.T, b BackendConfig)
	}{
		{
			name:    "empty type defaults to memory",
			backend: BackendConfig{},
			check: func(t *testing.T, b BackendConfig) {
				assert.Equal(t, BackendMemory, b.Type)
			},
		},
		{
			name:    "redis gets default url",
			backend: BackendConfig{Type: BackendRedis},
			check: func(t *testing.T, b BackendConfig) {
				assert.Equal(t, DefaultRedisURL, b.Redis.URL)
			},
		},
		{
			name:    "sqlite gets default path",
			backend: BackendConfig{Type: BackendSQLite, SQLite: &SQLiteConfig{}},
			check: func(t *testing.T, b BackendConfig) {
				assert.Equal(t, DefaultSQLitePath, b.SQLite.Path)
			},
		},
		{
			name:    "postgres requires a dsn",
			backend: BackendConfig{Type: BackendPostgres},
			wantErr: "backend.postgres.dsn is required",
		},
		{
			name:    "postgres with dsn",
			backend: BackendConfig{Type: BackendPostgres, Postgres: &PostgresConfig{DSN: "postgres://localhost/parley"}},
		},
		{
			name:    "unknown type",
			backend: BackendConfig{Type: "etcd"},
			wantErr: "invalid backend type: etcd",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.backend
			err := b.Validate()
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			if tc.check != nil {
				tc.check(t, b)
			}
		})
	}
}

func TestValidate_Stages(t *testing.T) {
	config := &Config{
		Version: "1.0",
		Pipelines: map[string][]StageConfig{
			"preSendMessage": {{Stage: "trim"}, {Limit: 3}},
		},
	}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline 'preSendMessage' stage 1: stage is required")

	config.Pipelines["preSendMessage"][1] = StageConfig{Stage: "max-length", Limit: -1}
	err = config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "limit must be >= 0")
}

func TestParse_RedisURLFromEnvironment(t *testing.T) {
	t.Setenv(RedisURLEnv, "redis://override:6390")

	config, err := Parse([]byte(`version: "1.0"
backend:
  type: redis
  redis:
    url: redis://ignored:6379
`))
	require.NoError(t, err)
	assert.Equal(t, "redis://override:6390", config.Backend.Redis.URL)
}

func TestParse_InvalidConfiguration(t *testing.T) {
	_, err := Parse([]byte(`version: "1.0"
backend:
  type: carrier-pigeon
`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
