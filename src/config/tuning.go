package config

import (
	"fmt"
	"os"

	"budgee-sync/src/dedupe"

	"gopkg.in/yaml.v3"
)

// Tuning is the optional YAML file that adjusts duplicate scoring and the
// internal-transfer phrase list without a rebuild.
//
//	duplicates:
//	  weights: {amount: 0.4, date: 0.2, description: 0.4}
//	  threshold: 0.7
//	  window_days: 3
//	  amount_tolerance: 0.05
//	  partial_amount_score: 0.5
//	internal_transfer_phrases:
//	  - "przelew na rachunek oszczednosciowy"
type Tuning struct {
	Duplicates struct {
		Weights            *dedupe.Weights `yaml:"weights"`
		Threshold          *float64        `yaml:"threshold"`
		WindowDays         *int            `yaml:"window_days"`
		AmountTolerance    *float64        `yaml:"amount_tolerance"`
		PartialAmountScore *float64        `yaml:"partial_amount_score"`
	} `yaml:"duplicates"`
	InternalTransferPhrases []string `yaml:"internal_transfer_phrases"`
}

// LoadTuning reads path. An empty path yields the zero Tuning.
func LoadTuning(path string) (Tuning, error) {
	var t Tuning
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	return t, nil
}

// DedupeConfig applies the overrides on top of the built-in defaults and
// validates the result.
func (t Tuning) DedupeConfig() (dedupe.Config, error) {
	cfg := dedupe.DefaultConfig()
	d := t.Duplicates
	if d.Weights != nil {
		cfg.Weights = *d.Weights
	}
	if d.Threshold != nil {
		cfg.Threshold = *d.Threshold
	}
	if d.WindowDays != nil {
		cfg.WindowDays = *d.WindowDays
	}
	if d.AmountTolerance != nil {
		cfg.AmountTolerance = *d.AmountTolerance
	}
	if d.PartialAmountScore != nil {
		cfg.PartialAmountScore = *d.PartialAmountScore
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("tuning: %w", err)
	}
	return cfg, nil
}
