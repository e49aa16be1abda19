package worker

import (
	"fmt"

	"github.com/jmehdipour/isp-billing/internal/kafka"
	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/util"
	"github.com/spf13/cobra"
)

var enqueueRouterID int64

var enqueueCmd = &cobra.Command{
	Use:       "enqueue <action>",
	Short:     "Publish a pass command for the command worker",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"process-overdue", "generate-monthly", "sync-router", "sync-all", "snapshot-sessions"},
	RunE: func(cmd *cobra.Command, args []string) error {
		c := model.Command{ID: util.New(), Action: model.CommandAction(args[0]), RouterID: enqueueRouterID}
		if !c.Action.Valid() {
			return fmt.Errorf("unknown action %q", args[0])
		}
		if c.Action == model.ActionSyncRouter && c.RouterID <= 0 {
			return fmt.Errorf("%s needs --router", c.Action)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.CommandsTopic)
		defer p.Close()

		if err := p.Publish(cmd.Context(), c); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		fmt.Printf(">> enqueued %s (%s)\n", c.Action, c.ID)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().Int64Var(&enqueueRouterID, "router", 0, "router id for sync-router")
}
