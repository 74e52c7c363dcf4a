package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"on", false, true},
		{"TRUE", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"garbage", true, true},
		{"garbage", false, false},
		{" true ", false, true},
	}
	for _, tc := range tests {
		t.Setenv("CAREPING_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("CAREPING_TEST_BOOL", tc.defaultValue); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v): expected %v, got %v", tc.value, tc.defaultValue, tc.want, got)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("CAREPING_TEST_DUR", "90s")
	if got := ParseDurationEnv("CAREPING_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}

	t.Setenv("CAREPING_TEST_DUR", "")
	if got := ParseDurationEnv("CAREPING_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("expected default for empty value, got %v", got)
	}

	t.Setenv("CAREPING_TEST_DUR", "ninety seconds")
	if got := ParseDurationEnv("CAREPING_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("expected default for invalid value, got %v", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("CAREPING_TEST_INT", "42")
	if got := ParseIntEnv("CAREPING_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	t.Setenv("CAREPING_TEST_INT", "")
	if got := ParseIntEnv("CAREPING_TEST_INT", 7); got != 7 {
		t.Errorf("expected default for empty value, got %d", got)
	}

	t.Setenv("CAREPING_TEST_INT", "forty-two")
	if got := ParseIntEnv("CAREPING_TEST_INT", 7); got != 7 {
		t.Errorf("expected default for invalid value, got %d", got)
	}
}
