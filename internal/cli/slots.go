package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"slotbook/internal/apperr"
	"slotbook/internal/booking"
	"slotbook/internal/models"

	"github.com/spf13/cobra"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

var (
	slotProvider string
	slotServices []string
	slotDate     string
	slotFresh    bool

	bookTime  string
	bookNotes string
)

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Show the slots of a provider on one day",
	Long: `Show every slot of the provider's working day with its availability.
Slots where the selected services do not fit are shown as blocked.

Examples:
  slotbook slots --provider dr-stone --services consult
  slotbook slots --provider dr-stone --services consult,xray --date 2026-03-04 --fresh`,
	Aliases: []string{"available"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := app.EnsureLogin(ctx, user, password); err != nil {
			return err
		}
		wf, err := startWorkflow()
		if err != nil {
			return err
		}
		date, err := parseDate(slotDate)
		if err != nil {
			return err
		}
		if err := wf.ToTimeSelection(ctx, date); err != nil {
			return err
		}
		if slotFresh {
			if err := wf.RefreshSlots(ctx); err != nil {
				return err
			}
		}
		printSlots(cmd.OutOrStdout(), date, wf.Draft(), wf.Slots())
		return nil
	},
}

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Book a slot",
	Long: `Walk through service selection, time selection and summary, then
submit the booking.

Examples:
  slotbook book --provider dr-stone --services consult --date 2026-03-04 --time 09:00
  slotbook book --provider dr-stone --services consult,xray --time 14:00 --notes "first visit"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := app.EnsureLogin(ctx, user, password); err != nil {
			return err
		}
		wf, err := startWorkflow()
		if err != nil {
			return err
		}
		date, err := parseDate(slotDate)
		if err != nil {
			return err
		}
		start, err := parseClock(date, bookTime)
		if err != nil {
			return err
		}

		if err := wf.ToTimeSelection(ctx, date); err != nil {
			return err
		}
		if err := wf.SelectSlot(start); err != nil {
			return err
		}
		if err := wf.ToSummary(); err != nil {
			return err
		}
		if bookNotes != "" {
			if err := wf.SetNotes(bookNotes); err != nil {
				return err
			}
		}
		printSummary(cmd.OutOrStdout(), wf.Draft())

		b, err := wf.Submit(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Booked %s (%s)\n", b.ID, b.Status)
		return nil
	},
}

func startWorkflow() (*booking.Workflow, error) {
	if slotProvider == "" {
		return nil, apperr.New(apperr.KindValidation, "cli.slots", "--provider is required")
	}
	p, err := app.Provider(slotProvider)
	if err != nil {
		return nil, err
	}
	wf, err := app.Workflow(p)
	if err != nil {
		return nil, err
	}
	if err := wf.SelectServices(slotServices...); err != nil {
		return nil, err
	}
	return wf, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		y, m, d := time.Now().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.Local), nil
	}
	date, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, apperr.New(apperr.KindValidation, "cli.date", "invalid date, use YYYY-MM-DD")
	}
	return date, nil
}

func parseClock(date time.Time, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, apperr.New(apperr.KindValidation, "cli.time", "--time is required")
	}
	minutes, err := models.ParseClock(s)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.KindValidation, "cli.time", err)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, date.Location()).Add(minutes), nil
}

func printSlots(w io.Writer, date time.Time, draft booking.Draft, list []models.TimeSlot) {
	fmt.Fprintf(w, "%s, %s for %s (%s)\n\n",
		draft.ProviderID, date.Format("Monday, January 2, 2006"), strings.Join(draft.ServiceIDs, ", "), draft.Duration)
	if len(list) == 0 {
		fmt.Fprintln(w, "No working hours on this day.")
		return
	}
	free := 0
	for _, s := range list {
		mark := " "
		if s.IsAvailable() {
			mark = "+"
			free++
		}
		fmt.Fprintf(w, "%s %s-%s  %s\n", mark, s.Start.Format(clockLayout), s.End.Format(clockLayout), s.Availability)
	}
	fmt.Fprintf(w, "\n%d of %d slots available\n", free, len(list))
}

func printSummary(w io.Writer, d booking.Draft) {
	fmt.Fprintf(w, "Provider: %s\n", d.ProviderID)
	fmt.Fprintf(w, "Services: %s\n", strings.Join(d.ServiceIDs, ", "))
	fmt.Fprintf(w, "Time:     %s-%s\n", d.Start.Format(dateLayout+" "+clockLayout), d.End.Format(clockLayout))
	fmt.Fprintf(w, "Price:    %s\n", formatPrice(d.Price))
	if d.Notes != "" {
		fmt.Fprintf(w, "Notes:    %s\n", d.Notes)
	}
}

// formatPrice renders minor units.
func formatPrice(p int64) string {
	return fmt.Sprintf("%d.%02d", p/100, p%100)
}

func init() {
	for _, c := range []*cobra.Command{slotsCmd, bookCmd} {
		c.Flags().StringVarP(&slotProvider, "provider", "p", "", "provider id")
		c.Flags().StringSliceVarP(&slotServices, "services", "s", nil, "service ids, comma separated")
		c.Flags().StringVarP(&slotDate, "date", "d", "", "date (YYYY-MM-DD), default today")
	}
	slotsCmd.Flags().BoolVar(&slotFresh, "fresh", false, "skip cached availability")
	bookCmd.Flags().StringVarP(&bookTime, "time", "t", "", "start time (HH:MM)")
	bookCmd.Flags().StringVarP(&bookNotes, "notes", "n", "", "notes for the provider")
}
