package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluffyengine/fluffy-engine/internal/graph"
)

func newGraphCmd(o *rootOptions) *cobra.Command {
	var (
		outputFormat      string
		includeParameters bool
		clusterByType     bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Generate DOT graph of resource dependencies",
		Long: `Generate a DOT or Mermaid format graph showing resource and stack dependencies.

The output can be rendered with Graphviz:
    fluffy-engine graph | dot -Tpng -o deps.png

Or used in GitHub markdown (Mermaid format):
    fluffy-engine graph -f mermaid

Examples:
    fluffy-engine graph -c account=123456789012 -c region=us-east-1
    fluffy-engine graph -p              # include parameters
    fluffy-engine graph -t              # cluster by service inside each stack`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var graphFormat graph.Format
			switch outputFormat {
			case "dot":
				graphFormat = graph.FormatDOT
			case "mermaid":
				graphFormat = graph.FormatMermaid
			default:
				return fmt.Errorf("unknown format: %s (use 'dot' or 'mermaid')", outputFormat)
			}

			res, err := o.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			stacks, err := graph.FromApp(res.App)
			if err != nil {
				return err
			}

			gen := &graph.Generator{
				Format:            graphFormat,
				IncludeParameters: includeParameters,
				ClusterByType:     clusterByType,
			}
			return gen.Generate(stacks, o.stdout)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "dot", "Output format: dot or mermaid")
	cmd.Flags().BoolVarP(&includeParameters, "include-parameters", "p", false, "Include parameter nodes in the graph")
	cmd.Flags().BoolVarP(&clusterByType, "cluster", "t", false, "Cluster resources by AWS service type")

	return cmd
}
