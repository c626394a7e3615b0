package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"slotbook/internal/apperr"
	"slotbook/internal/backend"
	"slotbook/internal/export"
	"slotbook/internal/models"

	"github.com/spf13/cobra"
)

var (
	bookingsRole   string
	exportOutput   string
	rescheduleDate string
	rescheduleTime string
	notesText      string
)

// bookingsCmd groups the commands on existing bookings.
var bookingsCmd = &cobra.Command{
	Use:   "bookings",
	Short: "List and manage existing bookings",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return app.EnsureLogin(cmd.Context(), user, password)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List bookings",
	Long: `List your bookings, or every booking of your providers with --role provider.

Examples:
  slotbook bookings list
  slotbook bookings list --role provider`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		role, err := parseRole()
		if err != nil {
			return err
		}
		list, err := app.Backend.ListBookings(cmd.Context(), role)
		if err != nil {
			return err
		}
		printBookings(cmd.OutOrStdout(), list)
		return nil
	},
}

var cancelCmd = statusCommand("cancel", "Cancel a booking", "Cancelled")
var confirmCmd = statusCommand("confirm", "Confirm a pending booking", "Confirmed")
var completeCmd = statusCommand("complete", "Mark a confirmed booking as completed", "Completed")

func statusCommand(use, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <booking-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			role, err := parseRole()
			if err != nil {
				return err
			}
			b, err := app.FindBooking(ctx, role, args[0])
			if err != nil {
				return err
			}

			ops := app.Operations()
			var updated *models.Booking
			switch use {
			case "cancel":
				updated, err = ops.Cancel(ctx, b)
			case "confirm":
				updated, err = ops.Confirm(ctx, b)
			default:
				updated, err = ops.Complete(ctx, b)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, updated.ID)
			return nil
		},
	}
}

var rescheduleCmd = &cobra.Command{
	Use:   "reschedule <booking-id>",
	Short: "Move a booking to another start time",
	Long: `Move a booking. The new interval must be inside the provider's working
hours and free of other bookings.

Examples:
  slotbook bookings reschedule 3f2c --time 11:00
  slotbook bookings reschedule 3f2c --date 2026-03-05 --time 09:30`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		role, err := parseRole()
		if err != nil {
			return err
		}
		b, err := app.FindBooking(ctx, role, args[0])
		if err != nil {
			return err
		}
		p, err := app.Provider(b.ProviderID)
		if err != nil {
			return err
		}

		date := b.Start
		if rescheduleDate != "" {
			if date, err = parseDate(rescheduleDate); err != nil {
				return err
			}
		}
		start, err := parseClock(date, rescheduleTime)
		if err != nil {
			return err
		}

		updated, err := app.Operations().Reschedule(ctx, p, b, start)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rescheduled %s to %s\n", updated.ID, updated.Start.Format(dateLayout+" "+clockLayout))
		return nil
	},
}

var notesCmd = &cobra.Command{
	Use:   "notes <booking-id>",
	Short: "Replace the notes of a booking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		role, err := parseRole()
		if err != nil {
			return err
		}
		b, err := app.FindBooking(ctx, role, args[0])
		if err != nil {
			return err
		}
		updated, err := app.Operations().UpdateNotes(ctx, b, notesText)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated notes of %s\n", updated.ID)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export bookings to an Excel file",
	Long: `Export bookings to an .xlsx workbook with one sheet per status.

Examples:
  slotbook bookings export -o bookings.xlsx
  slotbook bookings export --role provider -o provider.xlsx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		role, err := parseRole()
		if err != nil {
			return err
		}
		if !strings.HasSuffix(exportOutput, ".xlsx") {
			return apperr.New(apperr.KindValidation, "cli.export", "output must be an .xlsx file")
		}
		list, err := app.Backend.ListBookings(cmd.Context(), role)
		if err != nil {
			return err
		}
		if err := export.Bookings(exportOutput, list); err != nil {
			return fmt.Errorf("export bookings: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d bookings to %s\n", len(list), exportOutput)
		return nil
	},
}

func parseRole() (backend.Role, error) {
	switch backend.Role(bookingsRole) {
	case backend.RoleClient, "":
		return backend.RoleClient, nil
	case backend.RoleProvider:
		return backend.RoleProvider, nil
	}
	return "", apperr.New(apperr.KindValidation, "cli.role", "role must be client or provider")
}

func printBookings(w io.Writer, list []models.Booking) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No bookings.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROVIDER\tSERVICES\tSTART\tEND\tSTATUS\tPRICE")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			b.ID,
			b.ProviderID,
			strings.Join(b.ServiceIDs, ","),
			b.Start.Format(dateLayout+" "+clockLayout),
			b.End.Format(clockLayout),
			b.Status,
			formatPrice(b.TotalPrice),
		)
	}
	_ = tw.Flush()
}

func init() {
	bookingsCmd.PersistentFlags().StringVar(&bookingsRole, "role", "client", "client or provider")
	rescheduleCmd.Flags().StringVarP(&rescheduleDate, "date", "d", "", "new date (YYYY-MM-DD), default the current one")
	rescheduleCmd.Flags().StringVarP(&rescheduleTime, "time", "t", "", "new start time (HH:MM)")
	notesCmd.Flags().StringVarP(&notesText, "text", "m", "", "new notes")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "bookings.xlsx", "output file")

	bookingsCmd.AddCommand(listCmd, cancelCmd, confirmCmd, completeCmd, rescheduleCmd, notesCmd, exportCmd)
}
