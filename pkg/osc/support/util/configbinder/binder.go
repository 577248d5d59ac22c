// Package configbinder decodes loosely typed configuration maps into structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Bind decodes raw (typically a map[string]interface{} coming from YAML) into target.
// Struct fields are matched by their `yaml` tag and strings are converted to numbers/bools.
func Bind(raw interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to struct %s: %w", targetType.Name(), err)
	}
	return nil
}

// BindStrings is Bind for string-valued property maps.
func BindStrings(props map[string]string, target interface{}) error {
	if len(props) == 0 {
		return nil
	}
	raw := make(map[string]interface{}, len(props))
	for k, v := range props {
		raw[k] = v
	}
	return Bind(raw, target)
}

// BindNamed decodes every entry of a named map (e.g. `database:` or `storage:` sections).
func BindNamed[T any](raw map[string]interface{}) (map[string]T, error) {
	out := make(map[string]T, len(raw))
	for name, v := range raw {
		var item T
		if err := Bind(v, &item); err != nil {
			return nil, fmt.Errorf("entry '%s': %w", name, err)
		}
		out[name] = item
	}
	return out, nil
}
