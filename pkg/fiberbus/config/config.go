package config

import (
	"time"
)

// Config is a read-only view over decoded settings. Every accessor takes a
// fallback that is returned when the key is absent or holds the wrong type.
type Config struct {
	data map[string]any
}

// New wraps data. A nil map behaves like an empty one.
func New(data map[string]any) Config {
	if data == nil {
		data = map[string]any{}
	}
	return Config{data: data}
}

// lookup returns the value at key if it has type T.
func lookup[T any](c Config, key string) (T, bool) {
	v, ok := c.data[key].(T)
	return v, ok
}

// String returns the string at key, or def.
func (c Config) String(key, def string) string {
	if s, ok := lookup[string](c, key); ok {
		return s
	}
	return def
}

// Bool returns the bool at key, or def. Strings such as "true" are not
// converted.
func (c Config) Bool(key string, def bool) bool {
	if b, ok := lookup[bool](c, key); ok {
		return b
	}
	return def
}

// Int returns the integer at key, or def. Decoders produce int (YAML) or
// float64 (JSON); a float64 with a fractional part is rejected.
func (c Config) Int(key string, def int) int {
	switch n := c.data[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	}
	return def
}

// Duration returns the duration at key, or def.
//
// Strings go through time.ParseDuration ("6ms", "1s"). Bare numbers are
// milliseconds, the resolution of the runtime clock.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	switch d := c.data[key].(type) {
	case time.Duration:
		return d
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	case int:
		return time.Duration(d) * time.Millisecond
	case int64:
		return time.Duration(d) * time.Millisecond
	case float64:
		return time.Duration(d * float64(time.Millisecond))
	}
	return def
}

// Has reports whether key is present, whatever its value.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw exposes the underlying map. Callers must not modify it.
func (c Config) Raw() map[string]any {
	return c.data
}
