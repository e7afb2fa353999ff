// Package parse turns the text output of platform tools into report facts.
package parse

import (
	"fmt"
	"strings"
)

// KeyValues holds parsed KEY=VALUE lines.
type KeyValues struct {
	Fields map[string]string
	Lines  []string
}

// Get returns the value for key, or "" if absent.
func (kv *KeyValues) Get(key string) string {
	return kv.Fields[key]
}

// ParseKeyValues parses KEY=VALUE lines, the format of cifs credentials
// files. Lines without '=' and lines starting with '#' are ignored. Every key
// in required must be present.
func ParseKeyValues(text string, required ...string) (*KeyValues, error) {
	out := &KeyValues{
		Fields: make(map[string]string),
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}

		out.Fields[key] = value
		out.Lines = append(out.Lines, key+"="+value)
	}

	for _, k := range required {
		if _, ok := out.Fields[k]; !ok {
			return nil, fmt.Errorf("missing required %q key", k)
		}
	}

	return out, nil
}
