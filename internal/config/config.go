// Package config loads the hierarchical configuration document: a YAML
// file rooted at the "keyspaces-cdc-streams" namespace, with sections
// stream/connector/coordinator/lease-management/processor, each option
// overridable by an environment variable. Follows a typed
// Config-struct-plus-functional-constructor idiom throughout, backed by
// gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
)

// RootNamespace is the document's required top-level key.
const RootNamespace = "keyspaces-cdc-streams"

// Document is a parsed, dotted-path-navigable configuration tree. Every
// level is a map[string]any so the same type serves the whole document,
// mapper options (internal/mapper.Options), and nested sections alike.
type Document map[string]any

// Load reads and parses the YAML file at path, returning the contents
// of the RootNamespace key.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw YAML bytes, returning the contents of RootNamespace.
func Parse(data []byte) (Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	root, ok := raw[RootNamespace]
	if !ok {
		return nil, &cdcerrors.ConfigError{Option: RootNamespace, Reason: "missing root namespace"}
	}
	doc, ok := toDocument(root)
	if !ok {
		return nil, &cdcerrors.ConfigError{Option: RootNamespace, Reason: "root namespace is not a mapping"}
	}
	return doc, nil
}

// Section returns the nested document at key, or an empty Document if
// absent (sections are optional; individual required options within
// them are enforced by the typed accessors).
func (d Document) Section(key string) Document {
	v, ok := d[key]
	if !ok {
		return Document{}
	}
	sub, ok := toDocument(v)
	if !ok {
		return Document{}
	}
	return sub
}

func toDocument(v any) (Document, bool) {
	switch m := v.(type) {
	case map[string]any:
		return Document(m), true
	case Document:
		return m, true
	case map[any]any:
		out := make(Document, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// envName derives the environment variable for a dotted path under
// this section by stripping the root prefix (the caller already holds
// a sub-document, so envPrefix carries the path components consumed so
// far), replacing "." and "-" with "_", and upper-casing.
func envName(envPrefix, option string) string {
	full := option
	if envPrefix != "" {
		full = envPrefix + "." + option
	}
	replaced := strings.NewReplacer(".", "_", "-", "_").Replace(full)
	return strings.ToUpper(replaced)
}

// String returns option as a string, preferring the derived environment
// variable over the document value.
func (d Document) String(envPrefix, option string) (string, error) {
	if v, ok := os.LookupEnv(envName(envPrefix, option)); ok {
		return v, nil
	}
	v, ok := d[option]
	if !ok {
		return "", &cdcerrors.ConfigError{Option: option, Reason: "required option missing"}
	}
	return fmt.Sprintf("%v", v), nil
}

// StringDefault is like String but returns def instead of an error when
// the option is absent from both sources.
func (d Document) StringDefault(envPrefix, option, def string) string {
	s, err := d.String(envPrefix, option)
	if err != nil {
		return def
	}
	return s
}

// Bool returns option as a boolean, defaulting to def when absent.
func (d Document) Bool(envPrefix, option string, def bool) (bool, error) {
	if v, ok := os.LookupEnv(envName(envPrefix, option)); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, &cdcerrors.ConfigError{Option: option, Reason: fmt.Sprintf("invalid bool %q", v)}
		}
		return b, nil
	}
	v, ok := d[option]
	if !ok {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, &cdcerrors.ConfigError{Option: option, Reason: fmt.Sprintf("invalid bool %q", b)}
		}
		return parsed, nil
	default:
		return false, &cdcerrors.ConfigError{Option: option, Reason: fmt.Sprintf("%v is not a bool", v)}
	}
}

// Int returns option as an int, defaulting to def when absent.
func (d Document) Int(envPrefix, option string, def int) (int, error) {
	if v, ok := os.LookupEnv(envName(envPrefix, option)); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, &cdcerrors.ConfigError{Option: option, Reason: fmt.Sprintf("invalid int %q", v)}
		}
		return n, nil
	}
	v, ok := d[option]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, &cdcerrors.ConfigError{Option: option, Reason: fmt.Sprintf("invalid int %q", n)}
		}
		return parsed, nil
	default:
		return 0, &cdcerrors.ConfigError{Option: option, Reason: fmt.Sprintf("%v is not an int", v)}
	}
}

// Long returns option as an int64, defaulting to def when absent.
func (d Document) Long(envPrefix, option string, def int64) (int64, error) {
	if v, ok := os.LookupEnv(envName(envPrefix, option)); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, &cdcerrors.ConfigError{Option: option, Reason: fmt.Sprintf("invalid long %q", v)}
		}
		return n, nil
	}
	v, ok := d[option]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, &cdcerrors.ConfigError{Option: option, Reason: fmt.Sprintf("invalid long %q", n)}
		}
		return parsed, nil
	default:
		return 0, &cdcerrors.ConfigError{Option: option, Reason: fmt.Sprintf("%v is not a long", v)}
	}
}

// Duration returns option as a time.Duration, defaulting to def when
// absent. Values follow Go duration syntax ("60s", "1m"); a bare integer
// is accepted too and interpreted as whole seconds, for operators who
// prefer plain numbers.
func (d Document) Duration(envPrefix, option string, def time.Duration) (time.Duration, error) {
	raw, fromEnv := os.LookupEnv(envName(envPrefix, option))
	if !fromEnv {
		v, ok := d[option]
		if !ok {
			return def, nil
		}
		raw = fmt.Sprintf("%v", v)
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &cdcerrors.ConfigError{Option: option, Reason: fmt.Sprintf("invalid duration %q", raw)}
	}
	return parsed, nil
}

// StringList returns option as a list of strings, defaulting to nil
// when absent. The environment override, when present, is a
// comma-separated list.
func (d Document) StringList(envPrefix, option string) ([]string, error) {
	if v, ok := os.LookupEnv(envName(envPrefix, option)); ok {
		if v == "" {
			return nil, nil
		}
		parts := strings.Split(v, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		return parts, nil
	}
	v, ok := d[option]
	if !ok {
		return nil, nil
	}
	switch list := v.(type) {
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			out[i] = fmt.Sprintf("%v", item)
		}
		return out, nil
	case []string:
		return list, nil
	default:
		return nil, &cdcerrors.ConfigError{Option: option, Reason: fmt.Sprintf("%v is not a list", v)}
	}
}

// AsOptions flattens this document into mapper.Options-compatible raw
// values (the connector's options section is handed to a mapper
// factory verbatim).
func (d Document) AsOptions() map[string]any {
	return map[string]any(d)
}
