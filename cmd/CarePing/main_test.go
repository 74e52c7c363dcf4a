package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/CarePingHQ/CarePing/internal/reminder"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "CAREPING_STATE_DIR", "API_ADDR", "REMINDER_CHANNEL",
		"REMINDER_POLL_CRON", "REMINDER_POLL_INTERVAL", "REMINDER_CLAIM_LIMIT",
		"REMINDER_DELIVERY_TIMEOUT", "REMINDER_TIMEZONE", "TWILIO_CONTENT_CATALOG",
		"WHATSAPP_DB_DSN",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearEnv(t)

	config := loadEnvironmentConfig()
	if config.StateDir != DefaultStateDir {
		t.Errorf("expected default state dir %s, got %s", DefaultStateDir, config.StateDir)
	}
	if config.Channel != "log" {
		t.Errorf("expected default channel log, got %s", config.Channel)
	}
	if want := filepath.Join(DefaultStateDir, DefaultDBFileName); config.DatabaseURL != want {
		t.Errorf("expected default SQLite DSN %s, got %s", want, config.DatabaseURL)
	}
	if config.PollInterval != reminder.DefaultPollInterval {
		t.Errorf("expected default poll interval %v, got %v", reminder.DefaultPollInterval, config.PollInterval)
	}
	if config.ClaimLimit != reminder.DefaultClaimLimit {
		t.Errorf("expected default claim limit %d, got %d", reminder.DefaultClaimLimit, config.ClaimLimit)
	}
	if config.DeliveryTimeout != reminder.DefaultDeliveryTimeout {
		t.Errorf("expected default delivery timeout %v, got %v", reminder.DefaultDeliveryTimeout, config.DeliveryTimeout)
	}
	if config.TwilioCatalog {
		t.Error("expected Twilio content catalog disabled by default")
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://careping@localhost/careping")
	t.Setenv("CAREPING_STATE_DIR", "/tmp/careping-test")
	t.Setenv("REMINDER_CHANNEL", "twilio")
	t.Setenv("REMINDER_POLL_INTERVAL", "30s")
	t.Setenv("REMINDER_CLAIM_LIMIT", "10")
	t.Setenv("TWILIO_CONTENT_CATALOG", "true")

	config := loadEnvironmentConfig()
	if config.DatabaseURL != "postgres://careping@localhost/careping" {
		t.Errorf("unexpected database URL: %s", config.DatabaseURL)
	}
	if config.StateDir != "/tmp/careping-test" {
		t.Errorf("unexpected state dir: %s", config.StateDir)
	}
	if config.Channel != "twilio" {
		t.Errorf("unexpected channel: %s", config.Channel)
	}
	if config.PollInterval != 30*time.Second {
		t.Errorf("unexpected poll interval: %v", config.PollInterval)
	}
	if config.ClaimLimit != 10 {
		t.Errorf("unexpected claim limit: %d", config.ClaimLimit)
	}
	if !config.TwilioCatalog {
		t.Error("expected Twilio content catalog enabled")
	}
}

func TestBuildChannelLogDefault(t *testing.T) {
	clearEnv(t)
	config := loadEnvironmentConfig()
	channel := "log"
	qrOutput := ""
	numericCode := false
	flags := Flags{channel: &channel, qrOutput: &qrOutput, numericCode: &numericCode}

	svc, catalog, err := buildChannel(config, flags)
	if err != nil {
		t.Fatalf("buildChannel failed: %v", err)
	}
	if svc == nil || catalog == nil {
		t.Fatal("expected service and catalog for log channel")
	}
	if err := svc.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestBuildChannelTwilioRequiresCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	config := loadEnvironmentConfig()
	channel := "twilio"
	qrOutput := ""
	numericCode := false
	flags := Flags{channel: &channel, qrOutput: &qrOutput, numericCode: &numericCode}

	if _, _, err := buildChannel(config, flags); err == nil {
		t.Error("expected error for Twilio channel without credentials")
	}
}
