package planner

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/analyst/config"
	"github.com/mohammad-safakhou/analyst/internal/agents"
	"github.com/mohammad-safakhou/analyst/internal/modelcfg"
	"github.com/mohammad-safakhou/analyst/internal/provider"
)

// Request carries everything the planner needs for one planning call.
type Request struct {
	Query       string
	ChatContext string
	Dataset     string
	FrameName   string
	Description string
	Available   []agents.Definition
	Settings    modelcfg.Settings
}

// ProviderSource resolves model settings to a transport. *provider.Registry
// satisfies it.
type ProviderSource interface {
	For(settings modelcfg.Settings) (provider.Provider, error)
}

// Planner asks an LLM to lay out which agents should answer a query.
type Planner struct {
	registry ProviderSource
	routing  config.LLMRoutingConfig
	logger   *log.Logger
}

// NewPlanner creates a planner routed through the given provider registry.
func NewPlanner(registry ProviderSource, routing config.LLMRoutingConfig, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &Planner{registry: registry, routing: routing, logger: logger}
}

// Plan produces a validated plan for the query. The returned response holds
// the raw token usage for metering even when the plan is rejected.
func (p *Planner) Plan(ctx context.Context, req Request) (Plan, provider.Response, error) {
	settings := req.Settings
	if p.routing.Planning != "" {
		settings.Model = p.routing.Planning
		settings.Provider = ""
	}
	settings = modelcfg.ApplySafeguards(settings)

	prov, err := p.registry.For(settings)
	if err != nil {
		return Plan{}, provider.Response{}, err
	}

	resp, err := prov.Generate(ctx, provider.Request{
		System:   plannerSystemPrompt,
		Prompt:   p.buildPrompt(req),
		Settings: settings,
	})
	if err != nil {
		return Plan{}, resp, fmt.Errorf("planning call: %w", err)
	}

	plan, err := ParsePlan(resp.Content)
	if err != nil {
		p.logger.Printf("plan rejected: %v", err)
		return Plan{}, resp, err
	}
	return plan, resp, nil
}

const plannerSystemPrompt = `You are a planning assistant for a data analytics system.
Given a user query and the available agents, respond with a single JSON object:
{"plan": "<comma-joined agent names in execution order>", "plan_instructions": {"<agent>": "<instruction>"}}
Use only the listed agents. Respond with nothing but the JSON object.`

func (p *Planner) buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("### Current Query:\n")
	b.WriteString(req.Query)
	b.WriteString("\n\n")
	if req.ChatContext != "" {
		b.WriteString(req.ChatContext)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Dataset: %s (loaded as %s)\n", req.Dataset, req.FrameName)
	if req.Description != "" {
		fmt.Fprintf(&b, "Dataset description: %s\n", req.Description)
	}
	b.WriteString("\nAvailable agents:\n")
	for _, a := range req.Available {
		fmt.Fprintf(&b, "- %s: %s\n", a.Name, a.Description)
	}
	return b.String()
}

// ChatContext folds a session's recent messages into the planner prompt
// context block, oldest first.
func ChatContext(messages []string) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("### Recent Conversation:\n")
	for _, m := range messages {
		b.WriteString(m)
		b.WriteString("\n")
	}
	return b.String()
}
