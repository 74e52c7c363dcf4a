package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CarePingHQ/CarePing/internal/api"
	"github.com/CarePingHQ/CarePing/internal/cron"
	"github.com/CarePingHQ/CarePing/internal/delivery"
	"github.com/CarePingHQ/CarePing/internal/messaging"
	"github.com/CarePingHQ/CarePing/internal/reminder"
	"github.com/CarePingHQ/CarePing/internal/store"
	"github.com/CarePingHQ/CarePing/internal/twiliosms"
	"github.com/CarePingHQ/CarePing/internal/util"
	"github.com/CarePingHQ/CarePing/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CarePing state data
	DefaultStateDir = "/var/lib/careping"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "careping.db"
)

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	APIAddr         string
	Channel         string
	PollCron        string
	PollInterval    time.Duration
	ClaimLimit      int
	DeliveryTimeout time.Duration
	Timezone        string
	TwilioCatalog   bool
	WhatsAppDSN     string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	apiAddr     *string
	channel     *string
	pollCron    *string
	timezone    *string
	qrOutput    *string
	numericCode *bool
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	st, err := openStore(flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	channel, catalog, err := buildChannel(config, flags)
	if err != nil {
		slog.Error("Failed to build messaging channel", "error", err)
		os.Exit(1)
	}
	defer channel.Stop()

	location := time.Local
	if *flags.timezone != "" {
		loc, err := time.LoadLocation(*flags.timezone)
		if err != nil {
			slog.Error("Invalid timezone", "error", err, "timezone", *flags.timezone)
			os.Exit(1)
		}
		location = loc
	}

	adapter := delivery.NewAdapter(catalog, channel, st, delivery.WithLocation(location))
	scheduler := reminder.NewScheduler(st)
	processor := reminder.NewProcessor(st, adapter)
	poller := reminder.NewPoller(st, processor,
		reminder.WithInterval(config.PollInterval),
		reminder.WithClaimLimit(config.ClaimLimit),
		reminder.WithDeliveryTimeout(config.DeliveryTimeout),
	)

	if err := poller.RecoverStaleReminders(); err != nil {
		slog.Error("Startup stale-reminder recovery failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The poller entry point is driven either by the cron facility or by its
	// own ticker loop.
	if *flags.pollCron != "" {
		cronSched := cron.NewScheduler()
		defer cronSched.Stop()
		if err := cronSched.AddJob(*flags.pollCron, func() { poller.Poll(ctx) }); err != nil {
			slog.Error("Failed to register poll cron job", "error", err, "cron", *flags.pollCron)
			os.Exit(1)
		}
		slog.Info("Due-reminder poller scheduled via cron", "cron", *flags.pollCron)
	} else {
		go poller.Run(ctx)
	}

	server := api.NewServer(scheduler, st)
	if err := server.Run(ctx, *flags.apiAddr); err != nil {
		slog.Error("CarePing API server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("CarePing exited successfully")
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CAREPING_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("CAREPING_STATE_DIR"),
		APIAddr:         os.Getenv("API_ADDR"),
		Channel:         os.Getenv("REMINDER_CHANNEL"),
		PollCron:        os.Getenv("REMINDER_POLL_CRON"),
		PollInterval:    util.ParseDurationEnv("REMINDER_POLL_INTERVAL", reminder.DefaultPollInterval),
		ClaimLimit:      util.ParseIntEnv("REMINDER_CLAIM_LIMIT", reminder.DefaultClaimLimit),
		DeliveryTimeout: util.ParseDurationEnv("REMINDER_DELIVERY_TIMEOUT", reminder.DefaultDeliveryTimeout),
		Timezone:        os.Getenv("REMINDER_TIMEZONE"),
		TwilioCatalog:   util.ParseBoolEnv("TWILIO_CONTENT_CATALOG", false),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Channel == "" {
		config.Channel = "log"
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CAREPING_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"REMINDER_CHANNEL", config.Channel,
		"REMINDER_POLL_CRON", config.PollCron,
		"REMINDER_POLL_INTERVAL", config.PollInterval,
		"REMINDER_CLAIM_LIMIT", config.ClaimLimit)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for CarePing data (overrides $CAREPING_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for the reminder store (overrides $DATABASE_URL)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		channel:     flag.String("channel", config.Channel, "delivery channel: twilio, whatsapp, or log (overrides $REMINDER_CHANNEL)"),
		pollCron:    flag.String("poll-cron", config.PollCron, "cron expression driving the due-reminder poller; empty uses the interval ticker (overrides $REMINDER_POLL_CRON)"),
		timezone:    flag.String("timezone", config.Timezone, "IANA timezone for appointment times in messages (overrides $REMINDER_TIMEZONE)"),
		qrOutput:    flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numericCode: flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
	}

	flag.Parse()

	// Keep the SQLite default in the chosen state directory when only
	// --state-dir was overridden.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}

	return flags
}

// openStore selects the store backend from the DSN.
func openStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Info("Using Postgres reminder store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Info("Using SQLite reminder store", "path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildChannel constructs the messaging service and template catalog for the
// configured delivery channel.
func buildChannel(config Config, flags Flags) (messaging.Service, delivery.Catalog, error) {
	switch *flags.channel {
	case "twilio":
		client, err := twiliosms.NewClient()
		if err != nil {
			return nil, nil, err
		}
		var catalog delivery.Catalog = delivery.NewStaticCatalog(delivery.DefaultTemplates())
		if config.TwilioCatalog {
			catalog = delivery.NewTwilioContentCatalog(client)
		}
		slog.Info("Using Twilio delivery channel", "content_catalog", config.TwilioCatalog)
		return messaging.NewTwilioService(client), catalog, nil

	case "whatsapp":
		waOpts := []whatsapp.Option{}
		if config.WhatsAppDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsAppDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using WhatsApp delivery channel")
		return messaging.NewWhatsAppService(client), delivery.NewStaticCatalog(delivery.DefaultTemplates()), nil

	default:
		// Log-only channel: sends are recorded in memory, never transmitted.
		slog.Info("Using log-only delivery channel")
		return messaging.NewTwilioService(twiliosms.NewMockClient()), delivery.NewStaticCatalog(delivery.DefaultTemplates()), nil
	}
}
