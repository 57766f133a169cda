package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected Level
		wantErr  bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{" error ", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lvl, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, lvl)
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "debug", DebugLevel.String())
	assert.Equal(t, "warn", WarnLevel.String())
	assert.Equal(t, "Level(42)", Level(42).String())
}

func TestParseLevelOverrides(t *testing.T) {
	overrides, err := ParseLevelOverrides("finance=warn, kafka=debug,")
	require.NoError(t, err)
	assert.Equal(t, map[string]Level{"finance": WarnLevel, "kafka": DebugLevel}, overrides)

	_, err = ParseLevelOverrides("finance")
	assert.Error(t, err)

	_, err = ParseLevelOverrides("finance=loud")
	assert.Error(t, err)
}

func TestNoneLogger(t *testing.T) {
	var l Logger = &NoneLogger{}

	assert.Same(t, l, l.WithFields("k", "v"))
	assert.Same(t, l, l.WithContext(context.Background()))
	assert.Same(t, l, l.Named("claim"))
	assert.NoError(t, l.Sync())
}
