package ports

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeConfig decodes keyword configuration into target (a pointer to a struct).
// Unknown keys are rejected so that misspelled options surface at admission time.
func DecodeConfig(cfg Config, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(cfg)); err != nil {
		return err
	}
	return nil
}
