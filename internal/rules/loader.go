package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk rule file format.
type File struct {
	// Replace drops the built-in rules instead of extending them.
	Replace bool   `yaml:"replace"`
	Rules   []Rule `yaml:"rules"`
}

// Parse decodes a rule file and builds the resulting table. Rules in the file
// override built-in rules with the same key unless Replace is set, in which
// case only the file's rules are used.
func Parse(data []byte) (*Table, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file (for example an empty ConfigMap key) means no overrides.
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode rule file: %w", err)
	}
	if f.Replace {
		return NewTable(f.Rules)
	}
	return NewTable(merge(DefaultRules(), f.Rules))
}

// LoadFile reads and parses the rule file at path.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func merge(base, overrides []Rule) []Rule {
	index := make(map[Key]int, len(base))
	out := make([]Rule, 0, len(base)+len(overrides))
	for _, r := range base {
		index[Key{Source: r.Source, Rule: r.Rule}] = len(out)
		out = append(out, r)
	}
	for _, r := range overrides {
		k := Key{Source: r.Source, Rule: r.Rule}
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
