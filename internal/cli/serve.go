package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/wattbound/wattd/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveBusyPath, "busy-path", "", "GPU busy-percent file (overrides autodetection)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost     string
	servePort     int
	serveBusyPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wattd daemon",
	Long:  `Start the QoS control loop, GPU monitor, and HTTP API.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveBusyPath != "" {
		cfg.Monitor.BusyPath = serveBusyPath
	}

	d, err := daemon.NewWithConfig(cfg, cliVersion)
	if err != nil {
		return err
	}

	return d.Serve(context.Background())
}
