package main

import (
	"encoding/json"
	"fmt"

	"course-intake/pkg/kafka"
	"course-intake/pkg/tasks"

	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var (
		groupID string
		kind    string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail task and upload progress events from Kafka as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			return kafka.Consume(cmd.Context(), cfg.Kafka, groupID, func(ev tasks.Event) error {
				if kind != "" && string(ev.Kind) != kind {
					return nil
				}
				if err := enc.Encode(ev); err != nil {
					return fmt.Errorf("写出事件失败: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "intake-cli", "Kafka consumer group")
	cmd.Flags().StringVar(&kind, "kind", "", "Only print events of this kind (task | upload_progress)")
	return cmd
}
