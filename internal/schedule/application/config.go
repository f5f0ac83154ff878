package application

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ScheduleSeed defines one schedule in the seed file.
type ScheduleSeed struct {
	Tag           string   `yaml:"tag"`
	Enabled       bool     `yaml:"enabled"`
	Frequency     string   `yaml:"frequency"`
	DayOfWeek     int      `yaml:"day_of_week"`
	DayOfMonth    int      `yaml:"day_of_month"`
	AnchorDate    string   `yaml:"anchor_date"`
	At            string   `yaml:"at"`
	Mode          string   `yaml:"mode"`
	EmailTemplate string   `yaml:"email_template"`
	SkipDates     []string `yaml:"skip_dates"`
}

// SeedConfig is the yaml seed file shape.
type SeedConfig struct {
	Schedules []ScheduleSeed `yaml:"schedules"`
}

// LoadSeedConfig reads schedule seeds from a yaml file.
func LoadSeedConfig(path string) (SeedConfig, error) {
	var cfg SeedConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Seed creates schedules from the seed file for tags that do not exist
// yet. Existing schedules are left untouched, operator edits win.
func (s *Service) Seed(ctx context.Context, cfg SeedConfig) error {
	existing, err := s.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(existing))
	for _, sched := range existing {
		known[sched.Tag] = struct{}{}
	}

	for _, seed := range cfg.Schedules {
		if _, ok := known[seed.Tag]; ok {
			continue
		}
		input, err := seedToInput(seed)
		if err != nil {
			return fmt.Errorf("schedule seed %q: %w", seed.Tag, err)
		}
		if _, err := s.Create(ctx, input); err != nil {
			return fmt.Errorf("schedule seed %q: %w", seed.Tag, err)
		}
	}
	return nil
}

func seedToInput(seed ScheduleSeed) (CreateInput, error) {
	input := CreateInput{
		Tag:           seed.Tag,
		Enabled:       seed.Enabled,
		Frequency:     seed.Frequency,
		DayOfWeek:     seed.DayOfWeek,
		DayOfMonth:    seed.DayOfMonth,
		Mode:          seed.Mode,
		EmailTemplate: seed.EmailTemplate,
	}
	if seed.AnchorDate != "" {
		anchor, err := time.Parse("2006-01-02", seed.AnchorDate)
		if err != nil {
			return input, fmt.Errorf("invalid anchor_date: %w", err)
		}
		input.AnchorDate = anchor.UTC()
	}
	if seed.At != "" {
		at, err := time.Parse("15:04", seed.At)
		if err != nil {
			return input, fmt.Errorf("invalid at: %w", err)
		}
		input.Hour = at.Hour()
		input.Minute = at.Minute()
	}
	for _, raw := range seed.SkipDates {
		skip, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return input, fmt.Errorf("invalid skip date %q: %w", raw, err)
		}
		input.SkipDates = append(input.SkipDates, skip.UTC())
	}
	return input, nil
}
