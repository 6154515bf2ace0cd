package mapper

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
)

// Options is the parsed option document supplied to a mapper factory:
// the per-sink section of the connector config (connector.options.*).
// Every accessor checks the option's derived environment variable
// before falling back to the file value, exactly as
// internal/config.Document does for top-level sections, so that e.g.
// connector.options.bucket is overridden by CONNECTOR_OPTIONS_BUCKET
// whether or not bucket is also present in the file.
type Options struct {
	values    map[string]any
	envPrefix string
}

// NewOptions wraps values (typically config.Document.AsOptions()) with
// envPrefix, the dotted path env overrides are derived from (e.g.
// "connector.options").
func NewOptions(values map[string]any, envPrefix string) Options {
	return Options{values: values, envPrefix: envPrefix}
}

// envName derives the environment variable for key under envPrefix,
// mirroring internal/config.Document's derivation so the two stay in
// lockstep for the options one flows into the other from.
func (o Options) envName(key string) string {
	full := key
	if o.envPrefix != "" {
		full = o.envPrefix + "." + key
	}
	replaced := strings.NewReplacer(".", "_", "-", "_").Replace(full)
	return strings.ToUpper(replaced)
}

// String returns a required string option.
func (o Options) String(key string) (string, error) {
	if v, ok := os.LookupEnv(o.envName(key)); ok {
		if v == "" {
			return "", &cdcerrors.ConfigError{Option: key, Reason: "expected a non-empty string"}
		}
		return v, nil
	}
	v, ok := o.values[key]
	if !ok {
		return "", &cdcerrors.ConfigError{Option: key, Reason: "required option missing"}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &cdcerrors.ConfigError{Option: key, Reason: "expected a non-empty string"}
	}
	return s, nil
}

// StringDefault returns a string option or def if absent.
func (o Options) StringDefault(key, def string) string {
	if v, ok := os.LookupEnv(o.envName(key)); ok {
		return v
	}
	v, ok := o.values[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// StringList returns a required list-of-string option. The
// environment override, when present, is a comma-separated list.
func (o Options) StringList(key string) ([]string, error) {
	if v, ok := os.LookupEnv(o.envName(key)); ok {
		return splitEnvList(v), nil
	}
	v, ok := o.values[key]
	if !ok {
		return nil, &cdcerrors.ConfigError{Option: key, Reason: "required option missing"}
	}
	return toStringList(v), nil
}

// StringListDefault returns a list-of-string option or def if absent.
func (o Options) StringListDefault(key string, def []string) []string {
	if v, ok := os.LookupEnv(o.envName(key)); ok {
		return splitEnvList(v)
	}
	v, ok := o.values[key]
	if !ok {
		return def
	}
	return toStringList(v)
}

func splitEnvList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func toStringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Int returns an int option or def if absent.
func (o Options) Int(key string, def int) (int, error) {
	if v, ok := os.LookupEnv(o.envName(key)); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, &cdcerrors.ConfigError{Option: key, Reason: fmt.Sprintf("not an integer: %v", v)}
		}
		return n, nil
	}
	v, ok := o.values[key]
	if !ok {
		return def, nil
	}
	switch vv := v.(type) {
	case int:
		return vv, nil
	case int64:
		return int(vv), nil
	case float64:
		return int(vv), nil
	case string:
		n, err := strconv.Atoi(vv)
		if err != nil {
			return 0, &cdcerrors.ConfigError{Option: key, Reason: fmt.Sprintf("not an integer: %v", vv)}
		}
		return n, nil
	default:
		return 0, &cdcerrors.ConfigError{Option: key, Reason: "not an integer"}
	}
}

// Bool returns a bool option or def if absent.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := os.LookupEnv(o.envName(key)); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	v, ok := o.values[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
