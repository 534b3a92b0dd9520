package mapping

import (
	"fmt"
	"strings"
	"time"

	"crm-sync/internal/providers"

	"github.com/d5/tengo/v2"
)

// TransformationKind enumerates the closed set of field transformations the
// interpreter dispatches on. No reflection, no dynamic plugin loading.
type TransformationKind string

const (
	TransformNone        TransformationKind = "none"
	TransformUppercase   TransformationKind = "uppercase"
	TransformLowercase   TransformationKind = "lowercase"
	TransformDateFormat  TransformationKind = "date_format"
	TransformLookup      TransformationKind = "lookup"
	TransformOptionSet   TransformationKind = "option_set"
	TransformConcatenate TransformationKind = "concatenate"
	TransformSplit       TransformationKind = "split"
	TransformCustom      TransformationKind = "custom"
)

// Transformation is the kind plus its kind-specific configuration.
type Transformation struct {
	Kind   TransformationKind     `json:"kind" bson:"kind"`
	Config map[string]interface{} `json:"config,omitempty" bson:"config,omitempty"`
}

func (t Transformation) cfgString(key string) string {
	if t.Config == nil {
		return ""
	}
	s, _ := t.Config[key].(string)
	return s
}

// Apply runs the transformation on one value. The source record is passed
// so multi-field kinds (concatenate) and custom scripts can read siblings.
func (t Transformation) Apply(v providers.Value, source *providers.CrmRecord) (providers.Value, error) {
	switch t.Kind {
	case TransformNone, "":
		return v, nil

	case TransformUppercase:
		if v.Kind != providers.KindString {
			return v, nil
		}
		return providers.String(strings.ToUpper(v.Str)), nil

	case TransformLowercase:
		if v.Kind != providers.KindString {
			return v, nil
		}
		return providers.String(strings.ToLower(v.Str)), nil

	case TransformDateFormat:
		return t.applyDateFormat(v)

	case TransformLookup, TransformOptionSet:
		return t.applyDictionary(v)

	case TransformConcatenate:
		return t.applyConcatenate(source)

	case TransformSplit:
		return t.applySplit(v)

	case TransformCustom:
		return t.applyScript(v, source)

	default:
		return providers.Null(), fmt.Errorf("unknown transformation kind %q", t.Kind)
	}
}

func (t Transformation) applyDateFormat(v providers.Value) (providers.Value, error) {
	layout := t.cfgString("layout")
	if layout == "" {
		layout = time.RFC3339
	}

	switch v.Kind {
	case providers.KindTime:
		return providers.String(v.Time.UTC().Format(layout)), nil
	case providers.KindString:
		parsed, err := time.Parse(time.RFC3339, v.Str)
		if err != nil {
			return providers.Null(), fmt.Errorf("date_format: parse %q: %w", v.Str, err)
		}
		return providers.String(parsed.UTC().Format(layout)), nil
	case providers.KindNull:
		return v, nil
	default:
		return providers.Null(), fmt.Errorf("date_format: unsupported value kind %d", v.Kind)
	}
}

// applyDictionary translates source values through the configured table.
// Lookup and option-set mappings share the shape: config["values"] maps a
// source text form to its target value.
func (t Transformation) applyDictionary(v providers.Value) (providers.Value, error) {
	if v.IsNull() {
		return v, nil
	}

	table, _ := t.Config["values"].(map[string]interface{})
	if table == nil {
		return v, nil
	}

	if mapped, ok := table[v.Text()]; ok {
		return providers.FromAny(mapped), nil
	}
	if fallback, ok := t.Config["default"]; ok {
		return providers.FromAny(fallback), nil
	}
	return providers.Null(), fmt.Errorf("no dictionary entry for value %q", v.Text())
}

func (t Transformation) applyConcatenate(source *providers.CrmRecord) (providers.Value, error) {
	separator := t.cfgString("separator")
	rawFields, _ := t.Config["fields"].([]interface{})
	if len(rawFields) == 0 {
		return providers.Null(), fmt.Errorf("concatenate: no source fields configured")
	}

	parts := make([]string, 0, len(rawFields))
	for _, raw := range rawFields {
		name, _ := raw.(string)
		if v, ok := source.Get(name); ok && !v.IsNull() {
			parts = append(parts, v.Text())
		}
	}
	return providers.String(strings.Join(parts, separator)), nil
}

func (t Transformation) applySplit(v providers.Value) (providers.Value, error) {
	if v.Kind != providers.KindString {
		return v, nil
	}
	separator := t.cfgString("separator")
	if separator == "" {
		separator = " "
	}

	index := 0
	if raw, ok := t.Config["index"]; ok {
		if f, ok := raw.(float64); ok {
			index = int(f)
		}
		if i, ok := raw.(int); ok {
			index = i
		}
	}

	parts := strings.Split(v.Str, separator)
	if index < 0 || index >= len(parts) {
		return providers.Null(), fmt.Errorf("split: index %d out of range for %d parts", index, len(parts))
	}
	return providers.String(parts[index]), nil
}

// applyScript runs the configured tengo script. The script sees `value` and
// `record` and assigns its result to `output`.
func (t Transformation) applyScript(v providers.Value, source *providers.CrmRecord) (providers.Value, error) {
	scriptContent := t.cfgString("script")
	if scriptContent == "" {
		return providers.Null(), fmt.Errorf("custom: no script configured")
	}

	script := tengo.NewScript([]byte(scriptContent))

	if err := script.Add("value", v.Any()); err != nil {
		return providers.Null(), fmt.Errorf("custom: bind value: %w", err)
	}
	recordMap := map[string]interface{}{}
	if source != nil {
		recordMap = source.ToMap()
	}
	if err := script.Add("record", recordMap); err != nil {
		return providers.Null(), fmt.Errorf("custom: bind record: %w", err)
	}

	compiled, err := script.Compile()
	if err != nil {
		return providers.Null(), fmt.Errorf("custom: compile script: %w", err)
	}
	if err := compiled.Run(); err != nil {
		return providers.Null(), fmt.Errorf("custom: run script: %w", err)
	}

	return providers.FromAny(compiled.Get("output").Value()), nil
}
