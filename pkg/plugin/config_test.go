package plugin

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type builderConfig struct {
	Visibility string        `config:"visibility" validate:"oneof=public private community"`
	MaxModules int           `config:"max_modules" validate:"gte=1,lte=200"`
	Autosave   time.Duration `config:"autosave"`
	Tags       []string      `config:"tags"`
}

type checkedConfig struct {
	Min int `config:"min"`
	Max int `config:"max"`
}

func (c *checkedConfig) Validate() error {
	if c.Min > c.Max {
		return errors.New("min must not exceed max")
	}
	return nil
}

func defaultBuilderConfig() builderConfig {
	return builderConfig{Visibility: "private", MaxModules: 20, Autosave: 30 * time.Second}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   Config
		want    builderConfig
		wantErr bool
	}{
		{
			name:  "nil config keeps defaults",
			input: nil,
			want:  defaultBuilderConfig(),
		},
		{
			name:  "overrides merge onto defaults",
			input: Config{"max_modules": 50},
			want:  builderConfig{Visibility: "private", MaxModules: 50, Autosave: 30 * time.Second},
		},
		{
			name:  "weak typing from env or yaml strings",
			input: Config{"max_modules": "12", "autosave": "1m", "tags": "a,b", "visibility": "public"},
			want:  builderConfig{Visibility: "public", MaxModules: 12, Autosave: time.Minute, Tags: []string{"a", "b"}},
		},
		{
			name:    "validation failure",
			input:   Config{"max_modules": 0},
			wantErr: true,
		},
		{
			name:    "bad enum",
			input:   Config{"visibility": "secret"},
			wantErr: true,
		},
		{
			name:    "unknown key",
			input:   Config{"max_moduels": 3},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.input, defaultBuilderConfig())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Equal(t, defaultBuilderConfig(), got, "defaults returned on error")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_CustomValidator(t *testing.T) {
	_, err := Decode(Config{"min": 5, "max": 1}, checkedConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "min must not exceed max")

	got, err := Decode(Config{"min": 1, "max": 5}, checkedConfig{})
	require.NoError(t, err)
	assert.Equal(t, checkedConfig{Min: 1, Max: 5}, got)
}
