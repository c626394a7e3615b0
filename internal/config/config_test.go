package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const providersYAML = `
defaults:
  schedule:
    days: [1, 2, 3, 4, 5]
    start_time: "09:00"
    end_time: "17:00"
    slot_duration_minutes: 60
providers:
  - id: dr-stone
    name: Dr. Stone
    services:
      - {id: consult, name: Consultation, duration_minutes: 60, price: 5000}
  - id: dr-weekend
    name: Dr. Weekend
    schedule:
      days: [6, 7]
      start_time: "10:00"
      end_time: "14:00"
      slot_duration_minutes: 30
      break_minutes: 10
      buffer_minutes: 5
    services:
      - {id: xray, name: X-ray, duration_minutes: 30, price: 3000}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SLOTBOOK_FALLBACK", "https://backup.example.com")
	path := writeFile(t, dir, "config.yaml", `
api:
  endpoints:
    - https://api.example.com
    - ${SLOTBOOK_FALLBACK}
  probe_timeout_ms: 500
  cache_ttl_seconds: 60
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://api.example.com", "https://backup.example.com"}, cfg.API.Endpoints)
	assert.Equal(t, 500*time.Millisecond, cfg.ProbeTimeout())
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout())
	assert.Equal(t, time.Minute, cfg.CacheTTL())
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval())
	assert.Equal(t, 9090, cfg.PrometheusPort())
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, "data/slotbook.db", cfg.Storage.Path)
	assert.Equal(t, filepath.Join(dir, "providers.yaml"), cfg.Booking.ProvidersPath)
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(writeFile(t, dir, "none.yaml", "log:\n  level: info\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "level.yaml", "api:\n  endpoints: [http://a]\nlog:\n  level: loud\n"))
	assert.Error(t, err)

	cfg, err := Load(writeFile(t, dir, "stub.yaml", "stub:\n  enabled: true\n  users:\n    ann: pw\n"))
	require.NoError(t, err)
	assert.Equal(t, "pw", cfg.Stub.Users["ann"])
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())

	t.Setenv("SLOTBOOK_UNSET", "")
	cfg, err = Load(writeFile(t, dir, "blank.yaml", "api:\n  endpoints: [http://a, \"${SLOTBOOK_UNSET}\"]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a"}, cfg.API.Endpoints)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadProvidersConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "providers.yaml", providersYAML)

	cfg, err := LoadProvidersConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ProvidersConfig: 2 providers, 2 services", cfg.String())

	stone, err := cfg.Provider("dr-stone")
	require.NoError(t, err)
	assert.True(t, stone.Rule.WorksOn(time.Monday))
	assert.False(t, stone.Rule.WorksOn(time.Saturday))
	assert.Equal(t, time.Hour, stone.Rule.SlotDuration)
	svc, ok := stone.Service("consult")
	require.True(t, ok)
	assert.Equal(t, time.Hour, svc.Duration)
	assert.Equal(t, int64(5000), svc.Price)

	weekend, err := cfg.Provider("dr-weekend")
	require.NoError(t, err)
	assert.True(t, weekend.Rule.WorksOn(time.Sunday))
	assert.True(t, weekend.Rule.WorksOn(time.Saturday))
	assert.Equal(t, 10*time.Minute, weekend.Rule.Break)
	assert.Equal(t, 5*time.Minute, weekend.Rule.Buffer)

	_, err = cfg.Provider("nobody")
	assert.Error(t, err)
}

func TestProvidersValidate(t *testing.T) {
	schedule := &ScheduleConfig{Days: []int{1}, StartTime: "09:00", EndTime: "17:00", SlotDurationMinutes: 60}
	service := []ServiceConfig{{ID: "s", DurationMinutes: 30}}

	tests := []struct {
		name      string
		providers []ProviderConfig
	}{
		{"empty", nil},
		{"missing id", []ProviderConfig{{Schedule: schedule, Services: service}}},
		{"duplicate id", []ProviderConfig{{ID: "a", Schedule: schedule, Services: service}, {ID: "a", Schedule: schedule, Services: service}}},
		{"no schedule", []ProviderConfig{{ID: "a", Services: service}}},
		{"bad day", []ProviderConfig{{ID: "a", Schedule: &ScheduleConfig{Days: []int{8}, StartTime: "09:00", EndTime: "17:00", SlotDurationMinutes: 60}, Services: service}}},
		{"end before start", []ProviderConfig{{ID: "a", Schedule: &ScheduleConfig{StartTime: "17:00", EndTime: "09:00", SlotDurationMinutes: 60}, Services: service}}},
		{"zero slot", []ProviderConfig{{ID: "a", Schedule: &ScheduleConfig{StartTime: "09:00", EndTime: "17:00"}, Services: service}}},
		{"no services", []ProviderConfig{{ID: "a", Schedule: schedule}}},
		{"zero duration service", []ProviderConfig{{ID: "a", Schedule: schedule, Services: []ServiceConfig{{ID: "s"}}}}},
		{"duplicate service", []ProviderConfig{{ID: "a", Schedule: schedule, Services: []ServiceConfig{{ID: "s", DurationMinutes: 5}, {ID: "s", DurationMinutes: 5}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ProvidersConfig{Providers: tt.providers}
			assert.Error(t, cfg.Validate())
		})
	}

	ok := ProvidersConfig{Providers: []ProviderConfig{{ID: "a", Schedule: schedule, Services: service}}}
	assert.NoError(t, ok.Validate())
}

func TestWatchProviders(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "providers.yaml", providersYAML)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var loads, failures atomic.Int32
	var latest atomic.Pointer[ProvidersConfig]
	err := WatchProviders(ctx, path, 10*time.Millisecond, func(c *ProvidersConfig) {
		loads.Add(1)
		latest.Store(c)
	}, func(error) {
		failures.Add(1)
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())

	later := time.Now().Add(time.Minute)
	writeFile(t, dir, "providers.yaml", "providers: []\n")
	require.NoError(t, os.Chtimes(path, later, later))
	assert.Eventually(t, func() bool { return failures.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, latest.Load().Providers, 2)

	later = later.Add(time.Minute)
	writeFile(t, dir, "providers.yaml", `
providers:
  - id: solo
    schedule: {days: [1], start_time: "08:00", end_time: "12:00", slot_duration_minutes: 30}
    services: [{id: s, duration_minutes: 30}]
`)
	require.NoError(t, os.Chtimes(path, later, later))
	assert.Eventually(t, func() bool { return loads.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "solo", latest.Load().Providers[0].ID)

	// A touch without edits is not a reload.
	later = later.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), loads.Load())
	assert.Equal(t, int32(1), failures.Load())
}

func TestProvidersFileLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "providers.yaml", providersYAML)
	file := newProvidersFile(path)

	cfg, changed, err := file.load()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, cfg.Providers, 2)

	cfg, changed, err = file.load()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, cfg)

	later := time.Now().Add(time.Minute)
	writeFile(t, dir, "providers.yaml", "providers: [\n")
	require.NoError(t, os.Chtimes(path, later, later))
	_, changed, err = file.load()
	assert.Error(t, err)
	assert.True(t, changed)

	// The same broken content is reported once.
	later = later.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	_, changed, err = file.load()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.Remove(path))
	_, changed, err = file.load()
	assert.Error(t, err)
	assert.False(t, changed)
}
