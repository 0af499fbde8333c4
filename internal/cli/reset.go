package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docgraph/internal/app"
)

var errNeedsConfirm = errors.New("refusing to clear the graph without --yes")

func newResetCmd(s *session) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every document and drop the chunk collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errNeedsConfirm
			}
			a, err := s.load(cmd.Context(), false)
			if err != nil {
				return err
			}
			return reset(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}

func newRebuildCmd(s *session) *cobra.Command {
	var (
		yes  bool
		opts ingestOptions
	)
	cmd := &cobra.Command{
		Use:   "rebuild <file>...",
		Short: "Reset, ingest the given files, then print graph counts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errNeedsConfirm
			}
			a, err := s.load(cmd.Context(), true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := reset(ctx, a, cmd.OutOrStdout()); err != nil {
				return err
			}
			ingestErr := ingestFiles(ctx, a, cmd.OutOrStdout(), cmd.ErrOrStderr(), args, opts)
			counts, err := a.Graph.Counts(ctx)
			if err != nil {
				return errors.Join(ingestErr, err)
			}
			renderCounts(cmd.OutOrStdout(), counts)
			return ingestErr
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm clearing the graph first")
	cmd.Flags().StringVar(&opts.docType, "type", "", "document type for every file")
	return cmd
}

func reset(ctx context.Context, a *app.App, out io.Writer) error {
	if err := a.Builder.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, yellow("graph and vector index cleared"))
	return nil
}
