package main

import (
	"errors"

	"github.com/spf13/cobra"

	"dikt/internal/bootstrap"
	"dikt/internal/engine"
)

func newEngineCmd(a *app) *cobra.Command {
	var (
		target      uint64
		showPreedit bool
	)
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Act as a focused input method instance and print its commits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == 0 {
				return errors.New("--target must be non-zero")
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			sink := engine.NewWriterSink(cmd.OutOrStdout(), showPreedit)
			return bootstrap.RunEngine(ctx, a.cfg, target, sink, a.logger)
		},
	}
	cmd.Flags().Uint64Var(&target, "target", 0, "engine instance id to report as focused")
	cmd.Flags().BoolVar(&showPreedit, "preedit", false, "also print live preedit updates")
	return cmd
}
