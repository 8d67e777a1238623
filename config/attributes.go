package config

import (
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// AttributeMap holds loosely typed settings, such as the parameters of a single widget call,
// keyed by their json names.
type AttributeMap map[string]interface{}

// Has returns whether the given name is in the attributes.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

// Apply decodes attrs onto cfg. Nested maps address sections, for example
// {"volume": {"iou_threshold": 0.7}}. Settings not present keep their current value and
// unknown names are an error. The result is validated.
func (cfg *Config) Apply(attrs AttributeMap) error {
	updated := *cfg
	if err := decodeAttributes(attrs, &updated); err != nil {
		return err
	}
	if err := updated.Validate(""); err != nil {
		return err
	}
	*cfg = updated
	return nil
}

// DecodeAttributes decodes attrs onto the given section of a config, such as a *VolumeConfig.
func DecodeAttributes[T any](attrs AttributeMap, into *T) error {
	return decodeAttributes(attrs, into)
}

func decodeAttributes(attrs AttributeMap, into interface{}) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   into,
		Metadata: &md,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(attrs)); err != nil {
		return errors.Wrap(err, "failed to decode attributes")
	}
	if len(md.Unused) != 0 {
		sort.Strings(md.Unused)
		return errors.Errorf("unknown attributes %s", strings.Join(md.Unused, ", "))
	}
	return nil
}

// JSONSchema describes the config file format.
func JSONSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}
