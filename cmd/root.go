package cmd

import (
	"os"

	"github.com/jmehdipour/isp-billing/cmd/worker"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "config.yaml"

var cfgPath string

// NewRootCmd assembles the command tree. Every subcommand reads --config, which defaults to
// $ISPBILL_CONFIG and then to config.yaml; a missing file leaves the embedded defaults in place.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "isp-billing",
		Short: "ISP billing and router enforcement",
		Long: `isp-billing keeps customer records in agreement with the PPP secrets on each router
and enforces billing on the device: overdue customers are warned, then suspended,
and reactivated once nothing is left to pay.`,
		SilenceUsage: true,
	}

	def := os.Getenv("ISPBILL_CONFIG")
	if def == "" {
		def = defaultConfigPath
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", def, "path to YAML config file (env ISPBILL_CONFIG)")

	root.AddCommand(serveCmd, migrateCmd, seedCmd, configCmd)
	root.AddCommand(worker.NewWorkerCmd())
	return root
}

// Execute runs the CLI; cobra has already printed the error when it returns one.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
