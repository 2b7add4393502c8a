package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/GriffinCanCode/track17/backend/internal/domain/tracking"
	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type trackItem struct {
	TrackingNumber string             `json:"tracking_number"`
	Data           *tracking.Shipment `json:"data,omitempty"`
	Error          string             `json:"error,omitempty"`
}

func newTrackCommand(build BuildFunc, opts *options) *cobra.Command {
	var (
		carrierName string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "track NUMBER...",
		Short: "Look up one or more tracking numbers",
		Example: `  track17 track 1Z999AA10123456784
  track17 track --carrier fedex 123456789012 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			carrier, err := tracking.ParseCarrier(carrierName)
			if err != nil {
				return err
			}

			backend, logger, err := open(cmd, build, opts)
			if err != nil {
				return err
			}
			defer backend.Close()
			defer logger.Sync()

			results := backend.TrackBatch(cmd.Context(), args, carrier)

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					logger.Debug("lookup failed", zap.String("number", r.TrackingNumber), zap.Error(r.Err))
				}
			}

			if asJSON {
				err = writeJSON(stdout(cmd), results)
			} else {
				err = writeTable(stdout(cmd), results)
			}
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d lookups failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&carrierName, "carrier", "c", "", "carrier name or 17track code; empty detects from the number")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func writeJSON(w io.Writer, results []tracking.BatchResult) error {
	items := make([]trackItem, len(results))
	for i, r := range results {
		items[i] = trackItem{TrackingNumber: r.TrackingNumber, Data: r.Shipment}
		if r.Err != nil {
			items[i].Error = r.Err.Error()
		}
	}
	b, err := sonic.ConfigStd.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func writeTable(w io.Writer, results []tracking.BatchResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tCARRIER\tSTATUS\tTIME\tLATEST EVENT")
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(tw, "%s\t-\tERROR\t-\t%s\n", r.TrackingNumber, r.Err)
			continue
		}
		s := r.Shipment
		when, what := "-", "-"
		if ev := s.LatestEvent; ev != nil {
			when = dash(ev.Time)
			what = dash(ev.Description)
			if ev.Location != "" {
				what += " (" + ev.Location + ")"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.TrackingNumber, dash(s.CarrierName), s.Status, when, what)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
