package secrets

import (
	"errors"
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticLoader returns a Loader yielding a copy of tokens on every call.
func StaticLoader(tokens map[string]string) Loader {
	return func() (map[string]string, error) {
		return maps.Clone(tokens), nil
	}
}

// FileLoader returns a Loader that reads a YAML file mapping reviewer names
// to tokens, the layout of a mounted secret:
//
//	alice: 3f9c...
//	bob: 77ab...
//
// A missing file yields no tokens. Two reviewers sharing a token is an error.
func FileLoader(path string) Loader {
	return func() (map[string]string, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var byReviewer map[string]string
		if err := yaml.Unmarshal(data, &byReviewer); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		tokens := make(map[string]string, len(byReviewer))
		for reviewer, token := range byReviewer {
			if token == "" {
				return nil, fmt.Errorf("%s: empty token for reviewer %q", path, reviewer)
			}
			if other, dup := tokens[token]; dup {
				return nil, fmt.Errorf("%s: reviewers %q and %q share a token", path, other, reviewer)
			}
			tokens[token] = reviewer
		}
		return tokens, nil
	}
}

// Merge returns a Loader combining loaders in order. Later loaders win when
// the same token appears twice.
func Merge(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string)
		for _, l := range loaders {
			tokens, err := l()
			if err != nil {
				return nil, err
			}
			maps.Copy(out, tokens)
		}
		return out, nil
	}
}
