package notifier

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
)

// SettingWebhookURL is the settings key holding a provider's webhook.
const SettingWebhookURL = "webhook_url"

// Factory builds a Notifier from its provider settings.
type Factory func(settings map[string]string) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a provider available by name. Adapters call it from init;
// a duplicate name panics.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New builds the named provider.
func New(name string, settings map[string]string) (Notifier, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notifier: unknown provider %q", name)
	}
	return factory(settings)
}

// Available returns the registered provider names, sorted.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Build creates every provider that has settings, in name order. Providers
// that fail to build are skipped and their errors joined; settings for
// unregistered providers are reported the same way.
func Build(settings map[string]map[string]string) ([]Notifier, error) {
	var (
		out  []Notifier
		errs []error
	)
	available := Available()
	for _, name := range available {
		s, ok := settings[name]
		if !ok {
			continue
		}
		n, err := New(name, s)
		if err != nil {
			errs = append(errs, fmt.Errorf("notifier %s: %w", name, err))
			continue
		}
		out = append(out, n)
	}
	for name := range settings {
		if !slices.Contains(available, name) {
			errs = append(errs, fmt.Errorf("notifier: unknown provider %q", name))
		}
	}
	return out, errors.Join(errs...)
}

// WebhookURL returns the validated webhook of settings. Only absolute
// http and https URLs are accepted.
func WebhookURL(settings map[string]string) (string, error) {
	raw := settings[SettingWebhookURL]
	if raw == "" {
		return "", fmt.Errorf("%s is required", SettingWebhookURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s: %w", SettingWebhookURL, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fmt.Errorf("invalid %s: want an absolute http(s) URL", SettingWebhookURL)
	}
	return raw, nil
}
