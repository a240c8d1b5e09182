// Package masking holds the pluggable strategies that turn an original field value
// into its erasure replacement.
package masking

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"
)

var (
	// ErrUnknownStrategy is returned when a configuration names a strategy nobody registered.
	ErrUnknownStrategy = errors.New("unknown masking strategy")

	// ErrInvalidConfiguration is returned when a strategy rejects its options.
	ErrInvalidConfiguration = errors.New("invalid masking strategy configuration")
)

// Config names a strategy and its options, as it appears on policy rules and
// on field or collection overrides.
type Config struct {
	Strategy      string         `json:"strategy"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// Strategy masks a batch of values. requestID lets strategies derive per-request salts.
type Strategy interface {
	Name() string
	Mask(values []any, requestID string) ([]any, error)
}

// Factory builds a Strategy from its options.
type Factory func(options map[string]any) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		NullRewriteName:         newNullRewrite,
		StringRewriteName:       newStringRewrite,
		HashName:                newHash,
		RandomStringRewriteName: newRandomStringRewrite,
	}
)

// Register adds or replaces a strategy factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get resolves cfg to a Strategy.
func Get(cfg Config) (Strategy, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Strategy]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}

	return factory(cfg.Configuration)
}

// Truncate shortens string values to maxLength runes. Non-string values and
// non-positive lengths are returned unchanged.
func Truncate(value any, maxLength int) any {
	s, ok := value.(string)
	if !ok || maxLength <= 0 || utf8.RuneCountInString(s) <= maxLength {
		return value
	}

	return string([]rune(s)[:maxLength])
}

func stringOption(options map[string]any, key, fallback string) (string, error) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: option %q must be a string", ErrInvalidConfiguration, key)
	}
	return s, nil
}

func intOption(options map[string]any, key string, fallback int) (int, error) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			break
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: option %q must be an integer", ErrInvalidConfiguration, key)
}
