package loader

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// decodeInto converts a generic YAML-decoded value (maps/slices/scalars)
// into a typed engine struct, grounded in the teacher's mapToStruct. Two
// departures from the teacher's version: TagName is "yaml" (scenario/server
// structs are tagged for yaml, not json), and an int-to-float64 hook is
// added because yaml.v3 decodes bare integers as int while the engine's
// Resolver/Evaluator treat all numeric values as float64 (spec §4.1/§4.2).
func decodeInto(raw any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: false,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			intToFloat64HookFunc,
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}

// intToFloat64HookFunc fires whenever the source value is an int/int64,
// regardless of the destination kind (interface{} fields like Condition.Value
// and RequestStep.Body report kind Interface, not Float64, so matching on
// "to" would miss them).
func intToFloat64HookFunc(from reflect.Kind, _ reflect.Kind, data any) (any, error) {
	switch from {
	case reflect.Int:
		return float64(data.(int)), nil
	case reflect.Int64:
		return float64(data.(int64)), nil
	}
	return data, nil
}

// normalizeYAMLMaps is a pass-through: yaml.v3 (unlike v2) already decodes
// generic mappings as map[string]any, so no interface{}-key conversion is
// needed before mapstructure sees the tree.
func normalizeYAMLMaps(v any) any {
	return v
}
