package seed

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"

	"github.com/haukened/gracegate/internal/access/common/log"
)

// LoadFile reads rule inputs from path. YAML, JSON and TOML files carry
// them in a top-level "rules" list; any other extension is read as a
// plain list.
func LoadFile(path string, logger log.Logger) ([]string, error) {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open rule file %s: %w", path, err)
		}
		defer f.Close()
		return ParsePlainList(f, path, logger)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load rule file %s: %w", path, err)
	}
	if !k.Exists("rules") {
		return nil, fmt.Errorf("rule file %s missing 'rules'", path)
	}
	return dedupe(toStringValues(k.Get("rules"))), nil
}

// toStringValues accepts a single string or a list and keeps the
// non-empty strings, trimmed.
func toStringValues(val any) []string {
	switch v := val.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return toStringValues(stringsToAny(v))
	default:
		return nil
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
