package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"corrade-discord-bridge/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LogConfig
		wantErr bool
	}{
		{
			name: "valid json config",
			cfg: &config.LogConfig{
				Level:       "info",
				Encoding:    "json",
				LogToStdout: true,
			},
			wantErr: false,
		},
		{
			name: "valid console config",
			cfg: &config.LogConfig{
				Level:       "debug",
				Encoding:    "console",
				LogToStdout: true,
			},
			wantErr: false,
		},
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: true,
		},
		{
			name: "invalid level defaults to info",
			cfg: &config.LogConfig{
				Level:       "invalid",
				Encoding:    "json",
				LogToStdout: true,
			},
			wantErr: false,
		},
		{
			name: "invalid encoding",
			cfg: &config.LogConfig{
				Level:       "info",
				Encoding:    "xml",
				LogToStdout: true,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestNewLoggerCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, err := NewLogger(&config.LogConfig{
		Level:     "info",
		Encoding:  "json",
		LogToFile: true,
		Directory: dir,
		MaxSize:   1,
	})
	assert.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestLoggerMethods(t *testing.T) {
	logger, err := NewLogger(&config.LogConfig{
		Level:       "debug",
		Encoding:    "json",
		LogToStdout: true,
	})
	assert.NoError(t, err)

	// Exercise all levels except Fatal, which exits.
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")
	logger.Sync()
}
