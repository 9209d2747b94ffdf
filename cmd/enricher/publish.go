package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"media-enrichment-service/internal/events"
	"media-enrichment-service/internal/models"
	"media-enrichment-service/internal/schema"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "publish --url <source-url>",
		Short: "Announce an uploaded asset on the requests topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			event := models.PipelineEvent{SourceURL: url}
			if err := schema.New().Validate(event); err != nil {
				return err
			}

			k := ctx.cfg.Kafka
			if !k.Enabled {
				return errors.New("kafka is disabled: set KAFKA_ENABLED=true")
			}
			publisher := events.New(&events.Config{
				Enabled:       k.Enabled,
				Brokers:       k.Brokers,
				TopicRequests: k.TopicRequests,
				Principal:     k.Principal,
			})
			defer publisher.Close()

			if err := publisher.PublishRequest(cmd.Context(), event); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s to %s\n", url, k.TopicRequests)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Source media URL")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
