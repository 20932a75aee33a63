package research

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/internal/graph"
	"github.com/fupingyezi/mini-DeepResearch/provider"
)

// Node names of the research workflow.
const (
	NodeSimpleAnalyse   = "simple_analyse"
	NodeSupervisor      = "supervisor"
	NodeTaskDecomposer  = "task_decomposer"
	NodeTaskHandler     = "task_handler"
	NodeSearchAgent     = "search_agent"
	NodeReportGenerator = "report_generator"
)

// Decision is the supervisor's abstract verdict, independent of topology.
type Decision string

const (
	DecisionDecompose Decision = "taskDecomposer"
	DecisionSearch    Decision = "search"
	DecisionProcess   Decision = "process"
	DecisionReport    Decision = "summarize"
	DecisionEnd       Decision = "end"
)

// Decide applies the routing rules in order; the first match wins.
func Decide(s State) Decision {
	if len(s.Tasks) == 0 {
		return DecisionDecompose
	}
	for _, t := range s.Tasks {
		if t.NeedsSearch() {
			return DecisionSearch
		}
	}
	for _, t := range s.Tasks {
		if t.ReadyToProcess() {
			return DecisionProcess
		}
	}
	if AllProcessed(s.Tasks) && s.Summary == "" {
		return DecisionReport
	}
	return DecisionEnd
}

// Topology selects how search and processing are split across nodes.
type Topology string

const (
	// TopologyReact lets the task handler search through a bound tool.
	TopologyReact Topology = "react"
	// TopologySplit runs retrieval in a dedicated search agent.
	TopologySplit Topology = "split"
)

// Routes maps decisions to node names.
type Routes map[Decision]string

// RoutesFor returns the decision table of a topology.
func RoutesFor(t Topology) Routes {
	r := Routes{
		DecisionDecompose: NodeTaskDecomposer,
		DecisionSearch:    NodeTaskHandler,
		DecisionProcess:   NodeTaskHandler,
		DecisionReport:    NodeReportGenerator,
		DecisionEnd:       graph.END,
	}
	if t == TopologySplit {
		r[DecisionSearch] = NodeSearchAgent
	}
	return r
}

// Node returns the node for d, or END for an unknown decision.
func (r Routes) Node(d Decision) string {
	if n, ok := r[d]; ok {
		return n
	}
	return graph.END
}

// Router decides the next node name from the current state.
type Router interface {
	Route(ctx context.Context, s State) (string, error)
}

// RuleRouter routes with Decide.
type RuleRouter struct {
	Routes Routes
}

func (r RuleRouter) Route(ctx context.Context, s State) (string, error) {
	return r.Routes.Node(Decide(s)), nil
}

// LLMRouter asks the model for the next step. Any reply it cannot map to a
// decision ends the run.
type LLMRouter struct {
	LLM    provider.Provider
	Routes Routes
	Logger *zap.Logger
}

func (r LLMRouter) Route(ctx context.Context, s State) (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resp, err := r.LLM.Invoke(ctx, provider.Request{
		System:   supervisorPrompt(s),
		Messages: []provider.Message{{Role: provider.RoleUser, Content: taskProgress(s.Tasks)}},
	})
	if err != nil {
		return "", fmt.Errorf("supervisor llm: %w", err)
	}
	var reply struct {
		Next string `json:"next"`
	}
	if !decodeModelJSON(resp.Content, &reply) {
		logger.Warn("supervisor reply unparseable, ending run", zap.String("content", resp.Content))
		return graph.END, nil
	}
	d := Decision(strings.TrimSpace(reply.Next))
	if _, ok := r.Routes[d]; !ok {
		logger.Warn("supervisor chose unknown step, ending run", zap.String("next", reply.Next))
		return graph.END, nil
	}
	return r.Routes.Node(d), nil
}

// SupervisorNode records the router's choice in nextAction.
func SupervisorNode(r Router) graph.Node[State, Patch] {
	return func(ctx context.Context, s State) (Patch, error) {
		next, err := r.Route(ctx, s)
		if err != nil {
			return Patch{}, err
		}
		return Patch{NextAction: ptr(next)}, nil
	}
}

// RouteByNextAction is the supervisor's conditional edge.
func RouteByNextAction(ctx context.Context, s State) (string, error) {
	if s.NextAction == "" {
		return graph.END, nil
	}
	return s.NextAction, nil
}
