package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newContextCmd(s *session) *cobra.Command {
	var parent, children, asJSON bool
	cmd := &cobra.Command{
		Use:   "context <section-id>",
		Short: "Show a section with its parent and children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.load(cmd.Context(), false)
			if err != nil {
				return err
			}
			nc, err := a.Retriever.NodeContext(cmd.Context(), args[0], parent, children)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(nc)
			}
			renderContext(cmd.OutOrStdout(), nc)
			return nil
		},
	}
	cmd.Flags().BoolVar(&parent, "parent", true, "include the parent section")
	cmd.Flags().BoolVar(&children, "children", true, "include child sections")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
