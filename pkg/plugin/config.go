package plugin

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

var vld = validator.New(validator.WithRequiredStructEnabled())

// Validator lets a typed config add checks that struct tags cannot express.
type Validator interface {
	Validate() error
}

// Decode overlays cfg onto defaults and validates the result.
//
// Keys map onto struct fields through the `config` tag; unknown keys are an
// error so typos in a config file surface at initialization. Validation uses
// go-playground/validator `validate` tags, then the struct's own Validate
// method if it implements Validator.
//
//	type Config struct {
//	    MaxModules int `config:"max_modules" validate:"gte=1"`
//	}
//	cfg, err := plugin.Decode(raw, Config{MaxModules: 20})
func Decode[T any](cfg Config, defaults T) (T, error) {
	out := defaults

	if len(cfg) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &out,
			TagName:          "config",
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		})
		if err != nil {
			return defaults, fmt.Errorf("create config decoder: %w", err)
		}
		if err := dec.Decode(map[string]any(cfg)); err != nil {
			return defaults, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	if err := vld.Struct(out); err != nil {
		return defaults, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return defaults, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	return out, nil
}
