package kernel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0, cfg.Workers)
	assert.False(t, cfg.RetainPartial)
	assert.Equal(t, "deploy", cfg.DeployDirectory)
	assert.Equal(t, "@every 5s", cfg.ScanSchedule)
	assert.Equal(t, ":9090", cfg.StatusAddress)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr error
	}{
		{"defaults", &Config{}, nil},
		{"explicit values kept", &Config{Workers: 4, ScanSchedule: "*/5 * * * *", LogLevel: "DEBUG"}, nil},
		{"negative workers", &Config{Workers: -1}, ErrConfigInvalid},
		{"bad schedule", &Config{ScanSchedule: "every now and then"}, ErrConfigInvalid},
		{"bad log level", &Config{LogLevel: "loud"}, ErrConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	assert.ErrorIs(t, ValidateConfig(nil), ErrConfigNil)
	assert.ErrorIs(t, ValidateConfig(Config{}), ErrConfigNotPointer)
}

type requiredConfig struct {
	Name   string `required:"true"`
	Nested struct {
		Port int    `required:"true" default:"8080"`
		Host string `required:"true"`
	}
}

func TestValidateConfigRequired(t *testing.T) {
	cfg := &requiredConfig{}
	err := ValidateConfig(cfg)
	assert.ErrorIs(t, err, ErrConfigRequiredFieldMissing)
	assert.ErrorContains(t, err, "Name, Nested.Host")
	assert.Equal(t, 8080, cfg.Nested.Port)

	cfg.Name = "x"
	cfg.Nested.Host = "localhost"
	assert.NoError(t, ValidateConfig(cfg))
}

func TestGenerateSampleConfig(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		data, err := GenerateSampleConfig(&Config{}, "yaml")
		require.NoError(t, err)
		var out Config
		require.NoError(t, yaml.Unmarshal(data, &out))
		assert.Equal(t, "deploy", out.DeployDirectory)
		assert.Equal(t, "@every 5s", out.ScanSchedule)
	})

	t.Run("toml", func(t *testing.T) {
		data, err := GenerateSampleConfig(&Config{}, "toml")
		require.NoError(t, err)
		var out Config
		_, err = toml.Decode(string(data), &out)
		require.NoError(t, err)
		assert.Equal(t, ":9090", out.StatusAddress)
	})

	t.Run("json", func(t *testing.T) {
		data, err := GenerateSampleConfig(&Config{}, "json")
		require.NoError(t, err)
		var out Config
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, 30*time.Second, out.ShutdownTimeout)
	})

	_, err := GenerateSampleConfig(&Config{}, "ini")
	assert.ErrorIs(t, err, ErrUnsupportedFormatType)
	_, err = GenerateSampleConfig(nil, "yaml")
	assert.ErrorIs(t, err, ErrConfigNil)
}

func TestDescribeConfig(t *testing.T) {
	desc := DescribeConfig(&Config{})
	assert.Equal(t, "Concurrent bean constructions, 0 for unbounded", desc["Workers"])
	assert.Contains(t, desc, "ShutdownTimeout")
	assert.Len(t, desc, 10)
}
