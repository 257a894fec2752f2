package main

import (
	"github.com/spf13/cobra"

	"dikt/internal/bootstrap"
)

func newListenCmd(a *app) *cobra.Command {
	var shortcut string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Watch the keyboards for the dictation shortcut",
		Long: "Listen reads evdev keyboard devices and toggles dictation on each press of the\n" +
			"shortcut. The user needs read access to /dev/input (usually the input group).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if shortcut != "" {
				a.cfg.Toggle.Shortcut = shortcut
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return bootstrap.RunListener(ctx, a.cfg, a.logger)
		},
	}
	cmd.Flags().StringVar(&shortcut, "shortcut", "", "override DIKT_SHORTCUT, e.g. Ctrl+Alt+Space")
	return cmd
}
