package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a single ActionPolicy from a YAML file.
func LoadFromFile(path string) (*ActionPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}

	var p ActionPolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy file %s: %w", path, err)
	}

	return &p, nil
}

// LoadFromDirectory reads all .yaml/.yml files from a directory
// and returns a slice of ActionPolicies. Missing directories return
// an empty slice (not an error), matching the existing config pattern.
func LoadFromDirectory(dir string) ([]ActionPolicy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy directory %s: %w", dir, err)
	}

	var policies []ActionPolicy
	for _, entry := range entries {
		if entry.IsDir() || !IsPolicyFile(entry.Name()) {
			continue
		}

		p, err := LoadFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}

	return policies, nil
}

// IsPolicyFile reports whether name has a YAML extension.
func IsPolicyFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Resolve returns the policy called name, preferring a file-defined policy
// over a built-in preset of the same name.
func Resolve(name string, custom []ActionPolicy) (ActionPolicy, error) {
	for i := range custom {
		if custom[i].Name == name {
			return custom[i], nil
		}
	}
	if p, ok := PresetByName(name); ok {
		return p, nil
	}
	return ActionPolicy{}, fmt.Errorf("action policy %q: not a preset and not found in policy directory", name)
}
