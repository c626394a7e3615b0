package config

import (
	"fmt"
	"time"

	"slotbook/internal/models"

	"gopkg.in/yaml.v3"
)

// ProviderConfig represents a single provider.
type ProviderConfig struct {
	ID       string          `yaml:"id"`
	Name     string          `yaml:"name"`
	Schedule *ScheduleConfig `yaml:"schedule,omitempty"`
	Services []ServiceConfig `yaml:"services"`
}

// ScheduleConfig represents working hours.
type ScheduleConfig struct {
	Days                []int  `yaml:"days"`                  // 1=Mon, 7=Sun
	StartTime           string `yaml:"start_time"`            // "09:00"
	EndTime             string `yaml:"end_time"`              // "17:00"
	SlotDurationMinutes int    `yaml:"slot_duration_minutes"` // 60
	BreakMinutes        int    `yaml:"break_minutes,omitempty"`
	BufferMinutes       int    `yaml:"buffer_minutes,omitempty"`
}

// ServiceConfig represents a catalog entry.
type ServiceConfig struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	DurationMinutes int    `yaml:"duration_minutes"`
	Price           int64  `yaml:"price"` // minor units
}

// ProvidersConfig is the root of providers.yaml.
type ProvidersConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
	Defaults  struct {
		Schedule *ScheduleConfig `yaml:"schedule"`
	} `yaml:"defaults"`
}

// LoadProvidersConfig loads and validates providers from a YAML file.
func LoadProvidersConfig(path string) (*ProvidersConfig, error) {
	cfg, _, err := newProvidersFile(path).load()
	return cfg, err
}

func parseProvidersConfig(data []byte) (*ProvidersConfig, error) {
	var cfg ProvidersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse providers config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate providers config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *ProvidersConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers defined")
	}

	ids := make(map[string]bool)
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider[%d]: id is required", i)
		}
		if ids[p.ID] {
			return fmt.Errorf("provider[%d]: duplicate id '%s'", i, p.ID)
		}
		ids[p.ID] = true

		if p.Schedule == nil {
			return fmt.Errorf("provider[%d]: schedule is required", i)
		}
		if _, err := p.Schedule.rule(p.ID); err != nil {
			return fmt.Errorf("provider[%d].schedule: %w", i, err)
		}

		if len(p.Services) == 0 {
			return fmt.Errorf("provider[%d]: at least one service is required", i)
		}
		services := make(map[string]bool)
		for j, s := range p.Services {
			if s.ID == "" {
				return fmt.Errorf("provider[%d].services[%d]: id is required", i, j)
			}
			if services[s.ID] {
				return fmt.Errorf("provider[%d].services[%d]: duplicate id '%s'", i, j, s.ID)
			}
			services[s.ID] = true
			if s.DurationMinutes <= 0 {
				return fmt.Errorf("provider[%d].services[%d]: duration_minutes must be positive", i, j)
			}
			if s.Price < 0 {
				return fmt.Errorf("provider[%d].services[%d]: price cannot be negative", i, j)
			}
		}
	}
	return nil
}

// applyDefaults gives providers without a schedule the default one.
func (c *ProvidersConfig) applyDefaults() {
	for i := range c.Providers {
		if c.Providers[i].Schedule == nil && c.Defaults.Schedule != nil {
			c.Providers[i].Schedule = c.Defaults.Schedule
		}
	}
}

func (s *ScheduleConfig) rule(providerID string) (*models.WorkingHoursRule, error) {
	days := make([]time.Weekday, 0, len(s.Days))
	for _, d := range s.Days {
		if d < 1 || d > 7 {
			return nil, fmt.Errorf("invalid day %d, must be 1-7 (1=Mon, 7=Sun)", d)
		}
		// time.Weekday counts from Sunday = 0.
		days = append(days, time.Weekday(d%7))
	}
	return models.NewWorkingHoursRule(
		providerID,
		days,
		s.StartTime,
		s.EndTime,
		time.Duration(s.SlotDurationMinutes)*time.Minute,
		time.Duration(s.BreakMinutes)*time.Minute,
		time.Duration(s.BufferMinutes)*time.Minute,
	)
}

// Models converts the validated configuration into domain providers.
func (c *ProvidersConfig) Models() ([]models.Provider, error) {
	out := make([]models.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		rule, err := p.Schedule.rule(p.ID)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.ID, err)
		}
		services := make([]models.Service, len(p.Services))
		for i, s := range p.Services {
			services[i] = models.Service{
				ID:       s.ID,
				Name:     s.Name,
				Duration: time.Duration(s.DurationMinutes) * time.Minute,
				Price:    s.Price,
			}
		}
		out = append(out, models.Provider{ID: p.ID, Name: p.Name, Rule: rule, Services: services})
	}
	return out, nil
}

// Provider returns the domain provider with the given id.
func (c *ProvidersConfig) Provider(id string) (models.Provider, error) {
	all, err := c.Models()
	if err != nil {
		return models.Provider{}, err
	}
	for _, p := range all {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Provider{}, fmt.Errorf("unknown provider %q", id)
}

// String returns a summary of the configuration.
func (c *ProvidersConfig) String() string {
	services := 0
	for _, p := range c.Providers {
		services += len(p.Services)
	}
	return fmt.Sprintf("ProvidersConfig: %d providers, %d services", len(c.Providers), services)
}
