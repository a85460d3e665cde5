package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current QoS state of the running daemon",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status struct {
		NodeID      string  `json:"node_id"`
		Version     string  `json:"version"`
		QoSValue    string  `json:"qos_value"`
		State       string  `json:"state"`
		ActiveCount int     `json:"active_count"`
		GPUBusy     *int    `json:"gpu_busy_percent"`
		SampledAt   *string `json:"gpu_sampled_at"`
	}
	if err := apiGet("/api/status", &status); err != nil {
		return err
	}

	var detail struct {
		MisuseCount int64 `json:"misuse_count"`
	}
	if err := apiGet("/api/qos", &detail); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Node:\t%s (v%s)\n", status.NodeID, status.Version)
	fmt.Fprintf(w, "State:\t%s\n", status.State)
	fmt.Fprintf(w, "QoS value:\t%s\n", status.QoSValue)
	fmt.Fprintf(w, "Active callers:\t%d\n", status.ActiveCount)
	if status.GPUBusy != nil {
		fmt.Fprintf(w, "GPU busy:\t%d%%\n", *status.GPUBusy)
	} else {
		fmt.Fprintf(w, "GPU busy:\tno sample yet\n")
	}
	if detail.MisuseCount > 0 {
		fmt.Fprintf(w, "Unbalanced ends:\t%d\n", detail.MisuseCount)
	}
	return w.Flush()
}
