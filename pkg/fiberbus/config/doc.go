/*
Package config loads runtime settings from YAML or JSON.

Config wraps a map[string]any with typed accessors that fall back to a
default when a key is missing or has the wrong type:

	cfg := config.New(map[string]any{
	    "tick_period":     "6ms",
	    "fiber_pool_size": 3,
	    "metrics":         true,
	})

	period := cfg.Duration("tick_period", time.Millisecond) // 6ms
	pool := cfg.Int("fiber_pool_size", 1)                   // 3

Bare numbers given to Duration are milliseconds.

Settings is the typed view a runtime is built from:

	settings, err := config.LoadSettingsFile("fiberbus.yaml")
	if err != nil {
	    log.Fatal(err)
	}

Out of range values are replaced by their defaults rather than rejected.

Config is safe for concurrent reads as long as the source map is not
modified after New.
*/
package config
