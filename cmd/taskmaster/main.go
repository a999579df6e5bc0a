// Command taskmaster runs the reminder scheduler and the weekly report job.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/taskmaster/internal/credential"
	"github.com/nhle/taskmaster/internal/model"
	"github.com/nhle/taskmaster/internal/notify"
	"github.com/nhle/taskmaster/internal/reminder"
	"github.com/nhle/taskmaster/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.WithError(err).Fatal("taskmaster exited")
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("taskmaster", pflag.ContinueOnError)
	configPath := fs.String("config", model.DefaultConfigPath(), "path to the YAML config file")
	once := fs.Bool("once", false, "run a single reminder cycle and exit")
	reportNow := fs.Bool("report-now", false, "send the weekly report once and exit")
	seedPath := fs.String("seed", "", "import users and tasks from a JSON file before starting")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("store-driver", "", "task store backend (sqlite or redis)")
	fs.String("db", "", "SQLite database path")
	fs.String("redis-url", "", "Redis connection URL")
	fs.Int("interval", 0, "seconds between reminder cycles")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := model.LoadConfig(*configPath, fs)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	if *seedPath != "" {
		if err := seedFile(ctx, st, *seedPath, logger); err != nil {
			return err
		}
	}

	vault, err := credential.Open()
	if err != nil {
		logger.WithError(err).Warn("keyring unavailable, using secrets from config only")
		vault = nil
	}

	channels, email, err := buildChannels(cfg, vault)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		logger.Warn("no notification channels enabled; reminders will be recorded as failed")
	}

	sched := reminder.NewScheduler(st, channels, reminder.SystemClock{}, logger, reminder.ConfigFromModel(cfg.Scheduler))

	var reporter *reminder.Reporter
	if email != nil {
		reporter = reminder.NewReporter(st, email, reminder.SystemClock{}, logger, reportWindow(cfg.Report))
	}

	switch {
	case *once:
		_, err := sched.RunCycle(ctx)
		return err
	case *reportNow:
		if reporter == nil {
			return errors.New("weekly report needs the email channel enabled")
		}
		_, err := reporter.Run(ctx)
		return err
	}

	return serve(ctx, sched, reporter, cfg.Report, logger)
}

// serve runs the scheduler and report loops until ctx is cancelled.
func serve(
	ctx context.Context,
	sched *reminder.Scheduler,
	reporter *reminder.Reporter,
	cfg model.ReportConfig,
	logger log.FieldLogger,
) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Start(ctx)
		<-ctx.Done()
		sched.Stop()
		return nil
	})

	if reporter != nil && cfg.IntervalHours > 0 {
		g.Go(func() error {
			reporter.Start(ctx, reportInterval(cfg))
			<-ctx.Done()
			reporter.Stop()
			return nil
		})
	}

	logger.Info("taskmaster running")
	err := g.Wait()
	logger.Info("taskmaster stopped")
	return err
}

func openStore(ctx context.Context, cfg model.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case model.StoreDriverRedis:
		return store.OpenRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix)
	case model.StoreDriverSQLite:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return store.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// buildChannels returns the enabled channels and, separately, the email
// channel used for reports.
func buildChannels(cfg *model.AppConfig, vault *credential.Vault) ([]notify.Channel, notify.Channel, error) {
	var channels []notify.Channel
	var email notify.Channel

	if cfg.WhatsApp.Enabled {
		token, err := vault.Resolve(cfg.WhatsApp.AuthToken, credential.KeyTwilioAuthToken)
		if err != nil {
			return nil, nil, fmt.Errorf("whatsapp auth token: %w", err)
		}
		channels = append(channels, notify.NewWhatsApp(
			cfg.WhatsApp.BaseURL, cfg.WhatsApp.AccountSID, token, cfg.WhatsApp.From,
		))
	}

	if cfg.Email.Enabled {
		password := cfg.Email.Password
		if cfg.Email.Username != "" {
			var err error
			password, err = vault.Resolve(password, credential.KeySMTPPassword)
			if err != nil {
				return nil, nil, fmt.Errorf("smtp password: %w", err)
			}
		}
		ch, err := notify.NewEmail(
			cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, password, cfg.Email.From, cfg.Email.ImplicitTLS,
		)
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, ch)
		email = ch
	}

	return channels, email, nil
}
