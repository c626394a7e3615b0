package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"slotbook/internal/backend"

	"github.com/spf13/cobra"
)

var stubAddr string

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Local stand-in for the booking API",
}

var stubServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the in-memory booking API over HTTP",
	Long: `Serve the provider catalog and stub.users from the config over the
booking API routes. Point api.endpoints at it to try failover locally.

Examples:
  slotbook stub serve --addr :8081`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		list, err := app.Providers().Models()
		if err != nil {
			return err
		}
		stub := backend.NewStub(list, nil)
		for u, p := range app.Config.Stub.Users {
			stub.AddUser(u, p)
		}

		srv := &http.Server{Addr: stubAddr, Handler: stub.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctxShutdown)
		}()

		app.Logger.Info().Str("addr", stubAddr).Int("providers", len(list)).Msg("stub API listening")
		fmt.Fprintf(cmd.OutOrStdout(), "Serving stub API on %s\n", stubAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	stubServeCmd.Flags().StringVar(&stubAddr, "addr", ":8081", "listen address")
	stubCmd.AddCommand(stubServeCmd)
}
