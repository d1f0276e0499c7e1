// Package agents defines the agent catalogue and resolves request agent
// names into executable definitions.
package agents

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies how an agent executes.
type Kind string

const (
	KindStandard Kind = "standard"
	KindTemplate Kind = "template"
	KindCustom   Kind = "custom"
)

// Standard agent names, in catalogue order.
const (
	AgentPreprocessing = "preprocessing_agent"
	AgentStatistical   = "statistical_analytics_agent"
	AgentSKLearn       = "sk_learn_agent"
	AgentDataViz       = "data_viz_agent"
)

// BasicQAAgent answers general questions without touching the dataset. It is
// a routing sentinel and never appears in template listings.
const BasicQAAgent = "basic_qa_agent"

// StandardAgents lists the core analytics agents in execution order.
var StandardAgents = []string{
	AgentPreprocessing,
	AgentStatistical,
	AgentSKLearn,
	AgentDataViz,
}

var standardDescriptions = map[string]string{
	AgentPreprocessing: "Cleans and prepares the dataset: missing values, type coercion, train/test splits.",
	AgentStatistical:   "Runs statistical analysis: correlations, hypothesis tests, regression summaries.",
	AgentSKLearn:       "Builds and evaluates machine learning models with scikit-learn.",
	AgentDataViz:       "Produces charts and visual summaries of the data.",
}

var templateDescriptions = map[string]string{
	BasicQAAgent:             "Answers general questions unrelated to the loaded dataset.",
	"correlation_agent":      "Focused pairwise correlation exploration across columns.",
	"feature_engineer_agent": "Derives and ranks candidate features for modelling.",
	"anomaly_agent":          "Flags outliers and anomalous rows in the dataset.",
}

// Definition is one resolvable agent.
type Definition struct {
	Name        string            `json:"name"`
	Kind        Kind              `json:"kind"`
	Description string            `json:"description"`
	Prompt      string            `json:"prompt,omitempty"`
	Inputs      []string          `json:"inputs,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CustomAgent is a user-authored agent definition loaded from storage.
// Inputs name which of the builtin step inputs (dataset, styling_index, goal,
// Agent_desc) the agent receives.
type CustomAgent struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Inputs      []string `json:"inputs"`
}

// AllowedCustomInputs is the closed set of inputs a custom agent may declare.
var AllowedCustomInputs = []string{"dataset", "styling_index", "goal", "Agent_desc"}

// IsStandard reports whether name is one of the core analytics agents.
func IsStandard(name string) bool {
	_, ok := standardDescriptions[name]
	return ok
}

// IsTemplate reports whether name is a template agent, sentinel included.
func IsTemplate(name string) bool {
	_, ok := templateDescriptions[name]
	return ok
}

// TemplateAgents lists template agent names with the sentinel excluded.
func TemplateAgents() []string {
	out := make([]string, 0, len(templateDescriptions))
	for name := range templateDescriptions {
		if name == BasicQAAgent {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DescriptionFor returns the catalogue description for a builtin agent.
func DescriptionFor(name string) string {
	if d, ok := standardDescriptions[name]; ok {
		return d
	}
	return templateDescriptions[name]
}

// DisplayName trims the dedup suffix a planner may attach, so
// "data_viz_agent__2" renders as "data_viz_agent".
func DisplayName(name string) string {
	if i := strings.Index(name, "__"); i >= 0 {
		return name[:i]
	}
	return name
}

// NotFoundError reports an unresolvable agent name together with every name
// that would have resolved.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("agent %q not found; available agents: %s", e.Name, strings.Join(e.Available, ", "))
}
