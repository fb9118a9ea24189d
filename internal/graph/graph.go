// Package graph generates DOT and Mermaid format dependency graphs of the
// resources and stacks of a deployment.
package graph

import (
	"io"
	"sort"
	"strings"

	"github.com/emicklei/dot"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/stack"
)

// Format specifies the output format for the graph.
type Format string

const (
	// FormatDOT outputs Graphviz DOT format.
	FormatDOT Format = "dot"
	// FormatMermaid outputs Mermaid format for GitHub/markdown rendering.
	FormatMermaid Format = "mermaid"
)

// Stack is the graph view of one stack.
type Stack struct {
	Name         string
	Dependencies []string
	Resources    []fluffy.DeclaredResource
	Parameters   []string
}

// FromApp collects the graph view of every stack in deployment order.
func FromApp(a *stack.App) ([]Stack, error) {
	ordered, err := a.Order()
	if err != nil {
		return nil, err
	}
	out := make([]Stack, 0, len(ordered))
	for _, s := range ordered {
		resources, err := s.Resources()
		if err != nil {
			return nil, err
		}
		t, err := s.Template()
		if err != nil {
			return nil, err
		}
		params := make([]string, 0, len(t.Parameters))
		for name := range t.Parameters {
			params = append(params, name)
		}
		sort.Strings(params)
		out = append(out, Stack{
			Name:         s.Name(),
			Dependencies: s.Dependencies(),
			Resources:    resources,
			Parameters:   params,
		})
	}
	return out, nil
}

// Generator creates dependency graphs.
type Generator struct {
	// IncludeParameters includes parameter nodes in the graph.
	IncludeParameters bool

	// Format specifies the output format (dot or mermaid). Defaults to dot.
	Format Format

	// ClusterByType groups resources by AWS service inside each stack.
	ClusterByType bool
}

// Generate creates a dependency graph and writes it to w.
func (g *Generator) Generate(stacks []Stack, w io.Writer) error {
	graph := g.buildGraph(stacks)

	format := g.Format
	if format == "" {
		format = FormatDOT
	}

	var output string
	if format == FormatMermaid {
		output = dot.MermaidGraph(graph, dot.MermaidTopToBottom)
	} else {
		output = graph.String()
	}

	_, err := w.Write([]byte(output))
	return err
}

// GenerateString is a convenience method that returns the graph as a string.
func (g *Generator) GenerateString(stacks []Stack) (string, error) {
	var sb strings.Builder
	if err := g.Generate(stacks, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func nodeID(stackName, resource string) string {
	return stackName + "/" + resource
}

// buildGraph creates the dot.Graph structure: one cluster per stack,
// resource edges inside it and dashed edges between dependent stacks.
func (g *Generator) buildGraph(stacks []Stack) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "TB")

	graph.NodeInitializer(func(n dot.Node) {
		n.Attr("shape", "box")
		n.Attr("fontname", "Arial")
	})

	graph.EdgeInitializer(func(e dot.Edge) {
		e.Attr("fontname", "Arial")
		e.Attr("fontsize", "10")
	})

	anchors := make(map[string]dot.Node)

	for _, s := range stacks {
		cluster := graph.Subgraph(s.Name, dot.ClusterOption{})
		cluster.Attr("label", s.Name)
		cluster.Attr("style", "rounded")

		names := make(map[string]bool, len(s.Resources))
		for _, res := range s.Resources {
			names[res.Name] = true
		}

		if g.ClusterByType {
			g.addClusteredNodes(cluster, s)
		} else {
			for _, res := range s.Resources {
				n := cluster.Node(nodeID(s.Name, res.Name))
				n.Label(res.Name + "\\n[" + res.Type + "]")
			}
		}

		if g.IncludeParameters {
			for _, p := range s.Parameters {
				n := cluster.Node(nodeID(s.Name, p))
				n.Attr("shape", "ellipse")
				n.Attr("style", "dashed")
				n.Label(p)
			}
		}

		getAttRefs := buildGetAttSet(s.Resources)
		for _, res := range s.Resources {
			for _, dep := range res.Dependencies {
				if !names[dep] {
					continue
				}
				e := graph.Edge(graph.Node(nodeID(s.Name, res.Name)), graph.Node(nodeID(s.Name, dep)))
				if getAttRefs[res.Name+"->"+dep] {
					e.Attr("color", "blue")
				}
			}
		}

		if len(s.Resources) > 0 {
			anchors[s.Name] = graph.Node(nodeID(s.Name, s.Resources[0].Name))
		}
	}

	for _, s := range stacks {
		from, ok := anchors[s.Name]
		if !ok {
			continue
		}
		for _, dep := range s.Dependencies {
			to, ok := anchors[dep]
			if !ok {
				continue
			}
			e := graph.Edge(from, to, "depends on")
			e.Attr("style", "dashed")
		}
	}

	return graph
}

// buildGetAttSet creates a set of edges that are GetAtt references.
func buildGetAttSet(resources []fluffy.DeclaredResource) map[string]bool {
	getAttRefs := make(map[string]bool)
	for _, res := range resources {
		for _, usage := range res.AttrRefUsages {
			getAttRefs[res.Name+"->"+usage.ResourceName] = true
		}
	}
	return getAttRefs
}

// addClusteredNodes adds resource nodes grouped by AWS service.
func (g *Generator) addClusteredNodes(parent *dot.Graph, s Stack) {
	serviceResources := make(map[string][]fluffy.DeclaredResource)
	var services []string
	for _, res := range s.Resources {
		service := extractService(res.Type)
		if _, seen := serviceResources[service]; !seen {
			services = append(services, service)
		}
		serviceResources[service] = append(serviceResources[service], res)
	}

	for _, service := range services {
		resources := serviceResources[service]
		target := parent
		if len(resources) > 1 {
			target = parent.Subgraph(s.Name+"_"+service, dot.ClusterOption{})
			target.Attr("label", service)
			target.Attr("style", "rounded")
			target.Attr("bgcolor", "lightyellow")
		}
		for _, res := range resources {
			n := target.Node(nodeID(s.Name, res.Name))
			n.Label(res.Name + "\\n[" + res.Type + "]")
		}
	}
}

// extractService extracts the AWS service name from a CloudFormation type.
// e.g., "AWS::EC2::VPC" -> "EC2"
func extractService(cfType string) string {
	parts := strings.Split(cfType, "::")
	if len(parts) == 3 {
		return parts[1]
	}
	return "Other"
}
