package cli

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docgraph/internal/retrieval"
)

func newQueryCmd(s *session) *cobra.Command {
	var (
		mode   string
		topK   int
		filter retrieval.Filter
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "query <text>...",
		Short: "Retrieve sections or chunks for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := retrieval.ParseMode(mode)
			if err != nil {
				return err
			}
			a, err := s.load(cmd.Context(), false)
			if err != nil {
				return err
			}
			resp, err := a.Retriever.Retrieve(cmd.Context(), retrieval.Query{
				Text:   strings.Join(args, " "),
				Mode:   m,
				TopK:   topK,
				Filter: filter,
			})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			renderResults(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "node_name|summary|content|automatic|hybrid|graph_expansion")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default from config)")
	cmd.Flags().StringVar(&filter.Document, "document", "", "restrict to one document")
	cmd.Flags().StringVar(&filter.DocumentType, "type", "", "restrict to one document type")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response as JSON")
	return cmd
}
