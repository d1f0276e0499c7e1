package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed plan_schema.json
var planSchemaJSON string

// ErrPlanNotFound means the model response carried no plan at all.
var ErrPlanNotFound = errors.New("plan_not_found")

// ErrPlanMalformed means a plan was present but failed schema validation.
// Validation fails closed: anything not matching the schema exactly rejects.
var ErrPlanMalformed = errors.New("plan_not_formated_correctly")

// Plan is the validated outcome of a planning call. Agents preserves the
// plan's order; an entry may itself carry a dedup suffix like
// "data_viz_agent__2".
type Plan struct {
	Agents       []string          `json:"plan"`
	Instructions map[string]string `json:"plan_instructions"`
}

// rawPlan is the exact wire shape the planner model must produce.
type rawPlan struct {
	Plan         string            `json:"plan"`
	Instructions map[string]string `json:"plan_instructions"`
}

var (
	compileOnce sync.Once
	planSchema  *jsonschema.Schema
	compileErr  error
)

// PlanSchema returns the compiled JSON Schema for planner wire documents.
func PlanSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("plan_schema.json", strings.NewReader(planSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("plan_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile planner schema: %w", err)
			return
		}
		planSchema = schema
	})
	return planSchema, compileErr
}

// validateWire checks untrusted model output against the plan schema.
func validateWire(data []byte) error {
	schema, err := PlanSchema()
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrPlanMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrPlanMalformed, err)
	}
	return nil
}

// ParsePlan extracts and validates a plan from a raw model response.
//
// Returns ErrPlanNotFound when the response contains no JSON object or an
// empty plan, and ErrPlanMalformed when the JSON is present but does not
// match the schema.
func ParsePlan(response string) (Plan, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return Plan{}, ErrPlanNotFound
	}

	if err := validateWire([]byte(jsonStr)); err != nil {
		return Plan{}, err
	}
	var raw rawPlan
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrPlanMalformed, err)
	}

	agents := splitAgents(raw.Plan)
	if len(agents) == 0 {
		return Plan{}, ErrPlanNotFound
	}

	plan := Plan{Agents: agents, Instructions: raw.Instructions}
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// Validate enforces the coverage rules the schema cannot express: every
// planned agent needs an instruction, and no instruction may target an
// unplanned agent.
func (p Plan) Validate() error {
	if len(p.Agents) == 0 {
		return ErrPlanNotFound
	}
	planned := make(map[string]bool, len(p.Agents))
	for _, agent := range p.Agents {
		if strings.TrimSpace(agent) == "" {
			return fmt.Errorf("%w: empty agent entry", ErrPlanMalformed)
		}
		planned[agent] = true
	}
	for _, agent := range p.Agents {
		if _, ok := p.Instructions[agent]; !ok {
			return fmt.Errorf("%w: missing instructions for %q", ErrPlanMalformed, agent)
		}
	}
	for name := range p.Instructions {
		if !planned[name] {
			return fmt.Errorf("%w: instructions for unplanned agent %q", ErrPlanMalformed, name)
		}
	}
	return nil
}

// extractJSON returns the first balanced top-level JSON object in s.
func extractJSON(s string) string {
	start := -1
	depth := 0
	for i, ch := range s {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// splitAgents parses the plan's agent list. Both comma and arrow joined
// plans are accepted since models alternate between the two.
func splitAgents(plan string) []string {
	plan = strings.ReplaceAll(plan, "->", ",")
	var out []string
	for _, part := range strings.Split(plan, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
