package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docgraph/internal/app"
	"github.com/dgallion1/docgraph/internal/pipeline"
)

type ingestOptions struct {
	name    string
	docType string
}

func newIngestCmd(s *session) *cobra.Command {
	var opts ingestOptions
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Parse, summarize, persist and index documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.name != "" && len(args) > 1 {
				return fmt.Errorf("--name applies to a single file")
			}
			a, err := s.load(cmd.Context(), true)
			if err != nil {
				return err
			}
			return ingestFiles(cmd.Context(), a, cmd.OutOrStdout(), cmd.ErrOrStderr(), args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "document name (defaults to the file's base name)")
	cmd.Flags().StringVar(&opts.docType, "type", "", "document type, e.g. guideline")
	return cmd
}

// ingestFiles builds each file in turn. A failed file does not stop the rest.
func ingestFiles(ctx context.Context, a *app.App, out, progress io.Writer, paths []string, opts ingestOptions) error {
	failed := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			renderFailure(out, path, err)
			failed++
			continue
		}
		src := pipeline.Source{
			Filename:     filepath.Base(path),
			Name:         opts.name,
			Path:         path,
			DocumentType: opts.docType,
			Data:         data,
		}
		rep, err := a.Builder.Build(ctx, src, func(st pipeline.JobStatus) {
			fmt.Fprintf(progress, "  %s %s\n", faint("·"), st)
		})
		if err != nil {
			renderFailure(out, path, err)
			failed++
			continue
		}
		renderReport(out, path, rep)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(paths))
	}
	return nil
}
