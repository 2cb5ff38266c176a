package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	c := Default()
	c.ThresholdRatio = 0.4
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for threshold_ratio <= 0.5")
	}
}

func TestValidateRejectsLowMinValidators(t *testing.T) {
	c := Default()
	c.MinValidators = 3
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for min_validators < 4")
	}
}
