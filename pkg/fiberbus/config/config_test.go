package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"nil map", nil},
		{"empty map", map[string]any{}},
		{"with values", map[string]any{"key": "value"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.NotNil(t, cfg.Raw())
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal string
		want       string
	}{
		{"key exists", map[string]any{"journal_path": "events.db"}, "journal_path", "x", "events.db"},
		{"key missing", map[string]any{"other": "value"}, "journal_path", "x", "x"},
		{"empty string", map[string]any{"journal_path": ""}, "journal_path", "x", ""},
		{"wrong type", map[string]any{"journal_path": 123}, "journal_path", "x", "x"},
		{"nil map", nil, "journal_path", "x", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).String(tt.key, tt.defaultVal))
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name       string
		value      any
		defaultVal time.Duration
		want       time.Duration
	}{
		{"duration string", "6ms", time.Second, 6 * time.Millisecond},
		{"invalid string", "soon", time.Second, time.Second},
		{"int as millis", 6, time.Second, 6 * time.Millisecond},
		{"int64 as millis", int64(20), time.Second, 20 * time.Millisecond},
		{"float64 as millis", 1.5, time.Second, 1500 * time.Microsecond},
		{"time.Duration", 3 * time.Millisecond, time.Second, 3 * time.Millisecond},
		{"wrong type", true, time.Second, time.Second},
		{"missing", nil, time.Second, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := map[string]any{}
			if tt.value != nil {
				data["tick_period"] = tt.value
			}
			assert.Equal(t, tt.want, config.New(data).Duration("tick_period", tt.defaultVal))
		})
	}
}

func TestBool(t *testing.T) {
	cfg := config.New(map[string]any{"metrics": true, "tracing": "yes"})

	assert.True(t, cfg.Bool("metrics", false))
	assert.False(t, cfg.Bool("tracing", false), "strings are not bools")
	assert.True(t, cfg.Bool("missing", true))
}

func TestInt(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"int", 3, 3},
		{"int64", int64(4), 4},
		{"whole float64", 5.0, 5},
		{"fractional float64", 5.5, -1},
		{"string", "5", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"fiber_pool_size": tt.value})
			assert.Equal(t, tt.want, cfg.Int("fiber_pool_size", -1))
		})
	}
}

func TestHas(t *testing.T) {
	cfg := config.New(map[string]any{"heap_size": nil})
	assert.True(t, cfg.Has("heap_size"))
	assert.False(t, cfg.Has("tick_period"))
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte("tick_period: 10ms\nfiber_pool_size: 5\nmetrics: true\n"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.Duration("tick_period", 0))
	assert.Equal(t, 5, cfg.Int("fiber_pool_size", 0))
	assert.True(t, cfg.Bool("metrics", false))

	empty, err := config.FromYAML(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Raw())

	_, err = config.FromYAML([]byte("tick_period: [unclosed"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"tick_period": 8, "bus_queue_depth": 20}`))
	require.NoError(t, err)

	assert.Equal(t, 8*time.Millisecond, cfg.Duration("tick_period", 0))
	assert.Equal(t, 20, cfg.Int("bus_queue_depth", 0))

	_, err = config.FromJSON([]byte(`{"tick_period":`))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"yaml", write("a.yaml", "heap_size: 4096\n"), false},
		{"yml upper case", write("b.YML", "heap_size: 4096\n"), false},
		{"json", write("c.json", `{"heap_size": 4096}`), false},
		{"unsupported extension", write("d.toml", "heap_size = 4096\n"), true},
		{"missing file", filepath.Join(dir, "missing.yaml"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.FromFile(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 4096, cfg.Int("heap_size", 0))
		})
	}
}

func TestLoadSettings_Defaults(t *testing.T) {
	got := config.LoadSettings(config.New(nil))
	assert.Equal(t, config.DefaultSettings(), got)

	assert.Equal(t, 6*time.Millisecond, got.TickPeriod)
	assert.Equal(t, 3, got.FiberPoolSize)
	assert.Equal(t, 10, got.BusQueueDepth)
	assert.Zero(t, got.HeapSize)
}

func TestLoadSettings_Overrides(t *testing.T) {
	cfg := config.New(map[string]any{
		"tick_period":          "1ms",
		"fiber_pool_size":      0,
		"idle_components":      2,
		"bus_queue_depth":      4,
		"listener_queue_depth": 1,
		"heap_size":            8192,
		"fiber_block_size":     32,
		"stack_frame_size":     16,
		"announce_listeners":   true,
		"journal_path":         ":memory:",
		"log_level":            "debug",
		"metrics":              true,
		"tracing":              true,
	})

	want := config.Settings{
		TickPeriod:         time.Millisecond,
		FiberPoolSize:      0,
		IdleComponents:     2,
		BusQueueDepth:      4,
		ListenerQueueDepth: 1,
		HeapSize:           8192,
		FiberBlockSize:     32,
		StackFrameSize:     16,
		AnnounceListeners:  true,
		JournalPath:        ":memory:",
		LogLevel:           "debug",
		Metrics:            true,
		Tracing:            true,
	}
	assert.Equal(t, want, config.LoadSettings(cfg))
}

func TestLoadSettings_OutOfRange(t *testing.T) {
	cfg := config.New(map[string]any{
		"tick_period":     "-5ms",
		"fiber_pool_size": -1,
		"bus_queue_depth": 0,
		"heap_size":       -10,
	})

	got := config.LoadSettings(cfg)
	d := config.DefaultSettings()
	assert.Equal(t, d.TickPeriod, got.TickPeriod)
	assert.Equal(t, d.FiberPoolSize, got.FiberPoolSize)
	assert.Equal(t, d.BusQueueDepth, got.BusQueueDepth)
	assert.Zero(t, got.HeapSize)
}

func TestLoadSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fiberbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus_queue_depth: 16\n"), 0o600))

	s, err := config.LoadSettingsFile(path)
	require.NoError(t, err)
	assert.Equal(t, 16, s.BusQueueDepth)

	_, err = config.LoadSettingsFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
