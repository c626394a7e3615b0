// Package cli is the slotbook command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	verbose  bool
	user     string
	password string

	app *App
	// ownsApp is set when the app was built for this invocation.
	ownsApp bool
)

type commandContext struct {
	correlationID uuid.UUID
	startedAt     time.Time
}

type commandContextKey struct{}

var rootCmd = &cobra.Command{
	Use:   "slotbook",
	Short: "Book appointments against a resilient booking API",
	Long: `slotbook lists provider availability, submits bookings and manages
existing ones. Requests fail over between the configured API endpoints and
the session is refreshed transparently when the server rejects it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if app != nil {
			return nil
		}
		path := cfgFile
		if path == "" {
			path = os.Getenv("SLOTBOOK_CONFIG")
		}
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger := newLogger(cfg)
		a, err := NewApp(cmd.Context(), cfg, &logger)
		if err != nil {
			return err
		}
		app, ownsApp = a, true

		info := commandContext{correlationID: uuid.New(), startedAt: time.Now()}
		cmd.SetContext(context.WithValue(cmd.Context(), commandContextKey{}, info))
		logger.Debug().Str("command", cmd.CommandPath()).
			Str("correlation_id", info.correlationID.String()).
			Msg("command start")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		if app == nil || !ownsApp {
			return
		}
		if info, ok := cmd.Context().Value(commandContextKey{}).(commandContext); ok {
			app.Logger.Debug().Str("command", cmd.CommandPath()).
				Str("correlation_id", info.correlationID.String()).
				Int64("duration_ms", time.Since(info.startedAt).Milliseconds()).
				Msg("command end")
		}
		app.Close()
		app, ownsApp = nil, false
	},
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.LogLevel()
	if verbose {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// Execute runs the root command and reports a failure on stderr.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
	}
	return err
}

// describe appends the suggested next step to core errors.
func describe(err error) string {
	e, ok := apperr.As(err)
	if !ok {
		return err.Error()
	}
	switch e.NextAction() {
	case apperr.ActionFixInput:
		return e.Error() + " (check the input)"
	case apperr.ActionRefreshSlots:
		return e.Error() + " (the slot was taken, pick another time)"
	case apperr.ActionRelogin:
		return e.Error() + " (run 'slotbook login')"
	case apperr.ActionRetry:
		return e.Error() + " (try again later)"
	}
	return e.Error()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&user, "user", "", "log in as this user when no session is saved")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "password for --user")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	rootCmd.AddCommand(slotsCmd, bookCmd, bookingsCmd)
	rootCmd.AddCommand(healthCmd, monitorCmd, stubCmd)
}
