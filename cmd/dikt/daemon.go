package main

import (
	"github.com/spf13/cobra"

	"dikt/internal/bootstrap"
)

func newDaemonCmd(a *app) *cobra.Command {
	var noPreview bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the transcription service on the session bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noPreview {
				a.cfg.LivePreview.Enabled = false
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return bootstrap.RunDaemon(ctx, a.cfg, a.logger)
		},
	}
	cmd.Flags().BoolVar(&noPreview, "no-live-preview", false, "disable the provisional transcript shown while recording")
	return cmd
}
