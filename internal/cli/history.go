package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wattbound/wattd/internal/domain"
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum rows to show")
	rootCmd.AddCommand(historyCmd)
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent QoS transitions and overload periods",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	var resp struct {
		Transitions     []domain.Transition     `json:"transitions"`
		OverloadPeriods []domain.OverloadPeriod `json:"overload_periods"`
	}
	if err := apiGet(fmt.Sprintf("/api/qos/history?limit=%d", historyLimit), &resp); err != nil {
		return err
	}

	if len(resp.Transitions) == 0 {
		fmt.Println("No QoS transitions recorded yet.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tVALUE\tACTIVE\tREASON")
		for _, tr := range resp.Transitions {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				tr.Timestamp.Format("15:04:05.000"),
				tr.Value,
				tr.ActiveCount,
				tr.Reason,
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(resp.OverloadPeriods) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "OVERLOAD BEGAN\tENDED\tDURATION")
		for _, p := range resp.OverloadPeriods {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				p.BeganAt.Format("15:04:05.000"),
				p.EndedAt.Format("15:04:05.000"),
				p.Duration().Round(time.Millisecond),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}
