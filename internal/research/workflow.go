package research

import (
	"fmt"

	"github.com/fupingyezi/mini-DeepResearch/config"
	"github.com/fupingyezi/mini-DeepResearch/internal/graph"
)

// Options shape the workflow.
type Options struct {
	Topology             Topology
	UseLLMRouter         bool
	SimpleAnalyse        bool
	MaxTasks             int
	MaxDecomposeAttempts int
}

// OptionsFromConfig maps the research config section onto Options.
func OptionsFromConfig(c config.ResearchConfig) Options {
	c = c.Normalize()
	return Options{
		Topology:             Topology(c.Topology),
		UseLLMRouter:         c.Router == "llm",
		SimpleAnalyse:        c.SimpleAnalyse,
		MaxTasks:             c.MaxTasks,
		MaxDecomposeAttempts: c.Decomposer.MaxAttempts,
	}
}

func (o Options) normalize() Options {
	if o.Topology == "" {
		o.Topology = TopologyReact
	}
	if o.MaxTasks <= 0 || o.MaxTasks > 7 {
		o.MaxTasks = 7
	}
	if o.MaxDecomposeAttempts <= 0 {
		o.MaxDecomposeAttempts = 3
	}
	return o
}

// NewGraph assembles the research workflow. Every worker hands control back
// to the supervisor, whose conditional edge follows nextAction.
func NewGraph(d Deps, o Options) (*graph.Graph[State, Patch], error) {
	o = o.normalize()
	if d.LLM == nil {
		return nil, fmt.Errorf("research graph: llm is required")
	}
	if o.Topology != TopologyReact && o.Topology != TopologySplit {
		return nil, fmt.Errorf("research graph: unknown topology %q", o.Topology)
	}
	if o.Topology == TopologySplit && d.Search == nil {
		return nil, fmt.Errorf("research graph: split topology: %w", ErrNoSearcher)
	}

	routes := RoutesFor(o.Topology)
	var router Router = RuleRouter{Routes: routes}
	if o.UseLLMRouter {
		router = LLMRouter{LLM: d.LLM, Routes: routes, Logger: d.Logger}
	}

	g := graph.New(Merge)
	g.AddNode(NodeSupervisor, SupervisorNode(router))
	g.AddConditionalEdge(NodeSupervisor, RouteByNextAction)

	workers := map[string]graph.Node[State, Patch]{
		NodeTaskDecomposer:  TaskDecomposer(d, o),
		NodeTaskHandler:     TaskHandler(d, o),
		NodeReportGenerator: ReportGenerator(d),
	}
	if o.Topology == TopologySplit {
		workers[NodeSearchAgent] = SearchAgent(d)
	}
	for name, fn := range workers {
		g.AddNode(name, fn)
		g.AddEdge(name, NodeSupervisor)
	}

	g.SetEntry(NodeSupervisor)
	if o.SimpleAnalyse {
		g.AddNode(NodeSimpleAnalyse, SimpleAnalyse(d))
		g.AddEdge(NodeSimpleAnalyse, NodeSupervisor)
		g.SetEntry(NodeSimpleAnalyse)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
