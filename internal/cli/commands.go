package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/pipeline"
)

// ErrUnhealthy is returned by the health command when a required dependency
// is down, so scripts can rely on the exit status.
var ErrUnhealthy = errors.New("pipeline is unhealthy")

func enqueueCmd(a *app) *cobra.Command {
	var (
		userID string
		req    ebook.Request
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a new ebook generation request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sub, err := a.services.Producer.Submit(cmd.Context(), pipeline.GenerateRequest{
				UserID:    userID,
				EbookData: &req,
			})
			if err != nil {
				return fmt.Errorf("failed to enqueue: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), sub)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Id of the requesting user")
	cmd.Flags().StringVar(&req.Titulo, "title", "", "Ebook title")
	cmd.Flags().StringVar(&req.Categoria, "category", "", "Ebook category")
	cmd.Flags().IntVar(&req.NumeroCapitulos, "chapters", 0, "Number of chapters (default 5)")
	cmd.Flags().StringVar(&req.DetalhesAdicionais, "details", "", "Additional instructions for the content")
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show the status of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.services.Status.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func pipelineCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline <requestId>",
		Short: "Show every stage of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.services.Status.Pipeline(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

func healthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check broker connectivity and queue depths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := a.services.Health.Check(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Healthy() {
				return ErrUnhealthy
			}
			return nil
		},
	}
}

func watchCmd(a *app) *cobra.Command {
	var stages []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow job lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.services.Watch == nil {
				return errors.New("lifecycle events are disabled in this configuration")
			}
			keys, err := bindingKeys(stages)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return a.services.Watch(cmd.Context(), keys, func(e events.Event) {
				line := fmt.Sprintf("%s %-7s %-10s %s", e.Timestamp.Format("15:04:05"), stageLabel(e.Queue), e.State, e.JobID)
				if e.Attempt > 0 {
					line += fmt.Sprintf(" attempt=%d", e.Attempt)
				}
				if e.Error != "" {
					line += " error=" + e.Error
				}
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().StringSliceVar(&stages, "stage", nil, "Only show events of these stages (content, render, upload)")
	return cmd
}

// stageLabel names the stage consuming queueName, or the queue itself when
// no stage does.
func stageLabel(queueName string) string {
	if s, ok := pipeline.StageForQueue(queueName); ok {
		return string(s)
	}
	return queueName
}

// bindingKeys maps stage names to topic bindings. No stages means every
// event.
func bindingKeys(stages []string) ([]string, error) {
	if len(stages) == 0 {
		return []string{"#"}, nil
	}
	keys := make([]string, 0, len(stages))
	for _, name := range stages {
		s := pipeline.Stage(name)
		if !s.Valid() {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		keys = append(keys, s.Queue()+".*")
	}
	return keys, nil
}
