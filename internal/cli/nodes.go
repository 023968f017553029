package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// NewNodesCmd создаёт команду вывода типов узлов.
func NewNodesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List available node types",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := clientFn().ListNodes(category)
			if err != nil {
				return err
			}

			rows := make([][]string, len(defs))
			for i, d := range defs {
				rows[i] = []string{d.Type, string(d.Category), d.Name, strings.Join(d.Credentials, ",")}
			}
			outputFn().Print([]string{"TYPE", "CATEGORY", "NAME", "CREDENTIALS"}, rows, defs)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Filter by category (trigger, action, condition, utility)")
	return cmd
}
