// Package cli implements pipelinectl, an operator tool that submits ebook
// requests, inspects jobs and follows lifecycle events without going
// through the HTTP API.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/events"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/pipeline"
)

// WatchFunc streams lifecycle events matching the binding keys to fn until
// ctx is done.
type WatchFunc func(ctx context.Context, bindingKeys []string, fn func(events.Event)) error

// Services are the pipeline operations the commands drive.
type Services struct {
	Producer *pipeline.Producer
	Status   *pipeline.StatusService
	Health   *pipeline.HealthService
	Watch    WatchFunc
}

// Opener builds the services from the config file at path. The returned
// closer releases every client it opened.
type Opener func(ctx context.Context, path string) (*Services, func() error, error)

type app struct {
	open       Opener
	configPath string
	services   *Services
	closer     func() error
}

// NewRootCommand builds the pipelinectl command tree. The returned release
// func closes whatever the command opened and must be called after Execute.
func NewRootCommand(open Opener, defaultConfigPath string) (*cobra.Command, func() error) {
	a := &app{open: open}

	root := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Operate the ebook generation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			svc, closer, err := a.open(cmd.Context(), a.configPath)
			if err != nil {
				return err
			}
			a.services, a.closer = svc, closer
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "Path to configuration file")

	root.AddCommand(
		enqueueCmd(a),
		statusCmd(a),
		pipelineCmd(a),
		healthCmd(a),
		watchCmd(a),
	)
	return root, a.release
}

func (a *app) release() error {
	if a.closer == nil {
		return nil
	}
	closer := a.closer
	a.closer = nil
	return closer()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
