package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/analyst/config"
	"github.com/mohammad-safakhou/analyst/internal/agents"
	"github.com/mohammad-safakhou/analyst/internal/modelcfg"
	"github.com/mohammad-safakhou/analyst/internal/provider"
)

func TestParsePlanValid(t *testing.T) {
	resp := `Here is the plan you asked for:
{"plan": "preprocessing_agent, data_viz_agent", "plan_instructions": {"preprocessing_agent": "clean the data", "data_viz_agent": "plot price vs area"}}`
	plan, err := ParsePlan(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Agents) != 2 || plan.Agents[0] != "preprocessing_agent" {
		t.Fatalf("unexpected agents: %v", plan.Agents)
	}
	if plan.Instructions["data_viz_agent"] != "plot price vs area" {
		t.Fatalf("instructions lost: %v", plan.Instructions)
	}
}

func TestParsePlanArrowJoined(t *testing.T) {
	resp := `{"plan": "preprocessing_agent -> sk_learn_agent", "plan_instructions": {"preprocessing_agent": "a", "sk_learn_agent": "b"}}`
	plan, err := ParsePlan(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Agents) != 2 || plan.Agents[1] != "sk_learn_agent" {
		t.Fatalf("unexpected agents: %v", plan.Agents)
	}
}

func TestParsePlanNoJSON(t *testing.T) {
	_, err := ParsePlan("I cannot build a plan for that.")
	if !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestParsePlanEmptyPlan(t *testing.T) {
	_, err := ParsePlan(`{"plan": "", "plan_instructions": {}}`)
	if !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestParsePlanUnknownFieldFailsClosed(t *testing.T) {
	resp := `{"plan": "data_viz_agent", "plan_instructions": {"data_viz_agent": "x"}, "confidence": 0.9}`
	_, err := ParsePlan(resp)
	if !errors.Is(err, ErrPlanMalformed) {
		t.Fatalf("expected ErrPlanMalformed, got %v", err)
	}
}

func TestParsePlanWrongShapeRejected(t *testing.T) {
	cases := []string{
		`{"plan": ["preprocessing_agent"], "plan_instructions": {"preprocessing_agent": "x"}}`,
		`{"plan": "preprocessing_agent", "plan_instructions": "x"}`,
		`{"plan": "preprocessing_agent", "plan_instructions": {"preprocessing_agent": 1}}`,
		`{"plan": "preprocessing_agent"}`,
	}
	for _, raw := range cases {
		if _, err := ParsePlan(raw); !errors.Is(err, ErrPlanMalformed) {
			t.Fatalf("expected ErrPlanMalformed for %s, got %v", raw, err)
		}
	}
}

func TestParsePlanMissingInstruction(t *testing.T) {
	resp := `{"plan": "preprocessing_agent,data_viz_agent", "plan_instructions": {"preprocessing_agent": "x"}}`
	_, err := ParsePlan(resp)
	if !errors.Is(err, ErrPlanMalformed) {
		t.Fatalf("expected ErrPlanMalformed, got %v", err)
	}
}

func TestParsePlanUnplannedInstruction(t *testing.T) {
	resp := `{"plan": "data_viz_agent", "plan_instructions": {"data_viz_agent": "x", "sk_learn_agent": "y"}}`
	_, err := ParsePlan(resp)
	if !errors.Is(err, ErrPlanMalformed) {
		t.Fatalf("expected ErrPlanMalformed, got %v", err)
	}
}

type fakeProvider struct {
	response provider.Response
	err      error
	lastReq  provider.Request
}

func (f *fakeProvider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	f.lastReq = req
	return f.response, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

type fakeSource struct{ p *fakeProvider }

func (f fakeSource) For(settings modelcfg.Settings) (provider.Provider, error) {
	return f.p, nil
}

func TestPlannerPlan(t *testing.T) {
	fp := &fakeProvider{response: provider.Response{
		Content:      `{"plan": "preprocessing_agent", "plan_instructions": {"preprocessing_agent": "clean"}}`,
		PromptTokens: 120, CompletionTokens: 30,
	}}
	p := NewPlanner(fakeSource{fp}, config.LLMRoutingConfig{}, nil)

	plan, resp, err := p.Plan(context.Background(), Request{
		Query:       "clean my data",
		Dataset:     "Housing.csv",
		FrameName:   "df",
		Description: "housing listings",
		Available: []agents.Definition{
			{Name: "preprocessing_agent", Description: "cleans data"},
		},
		Settings: modelcfg.Settings{Model: "gpt-4o-mini", Temperature: 0.7},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Agents) != 1 {
		t.Fatalf("unexpected plan: %v", plan.Agents)
	}
	if resp.PromptTokens != 120 {
		t.Fatalf("token usage lost")
	}
	if !strings.HasPrefix(fp.lastReq.Prompt, "### Current Query:\nclean my data") {
		t.Fatalf("prompt missing query header: %q", fp.lastReq.Prompt[:40])
	}
	if !strings.Contains(fp.lastReq.Prompt, "preprocessing_agent: cleans data") {
		t.Fatalf("prompt missing agent catalogue")
	}
}

func TestPlannerRoutingOverridesModel(t *testing.T) {
	fp := &fakeProvider{response: provider.Response{
		Content: `{"plan": "preprocessing_agent", "plan_instructions": {"preprocessing_agent": "clean"}}`,
	}}
	p := NewPlanner(fakeSource{fp}, config.LLMRoutingConfig{Planning: "o1-mini"}, nil)
	_, _, err := p.Plan(context.Background(), Request{
		Query:    "q",
		Settings: modelcfg.Settings{Model: "gpt-4o-mini", Temperature: 0.3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp.lastReq.Settings.Model != "o1-mini" {
		t.Fatalf("expected routed model, got %s", fp.lastReq.Settings.Model)
	}
	// o1 safeguards must have fired on the routed model
	if fp.lastReq.Settings.Temperature != 1 {
		t.Fatalf("expected safeguarded temperature, got %v", fp.lastReq.Settings.Temperature)
	}
}

func TestPlannerPropagatesSentinel(t *testing.T) {
	fp := &fakeProvider{response: provider.Response{Content: "no plan here"}}
	p := NewPlanner(fakeSource{fp}, config.LLMRoutingConfig{}, nil)
	_, _, err := p.Plan(context.Background(), Request{Query: "q", Settings: modelcfg.Settings{Model: "gpt-4o-mini"}})
	if !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}
