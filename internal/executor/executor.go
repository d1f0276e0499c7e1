// Package executor turns a validated plan into a stream of agent result
// frames, bounded by a shared per-request budget.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/analyst/config"
	"github.com/mohammad-safakhou/analyst/internal/agents"
	"github.com/mohammad-safakhou/analyst/internal/budget"
	"github.com/mohammad-safakhou/analyst/internal/modelcfg"
	"github.com/mohammad-safakhou/analyst/internal/planner"
	"github.com/mohammad-safakhou/analyst/internal/provider"
	"github.com/mohammad-safakhou/analyst/internal/session"
	"github.com/mohammad-safakhou/analyst/internal/usage"
)

// State names the phases of one chat request.
type State string

const (
	StateInit          State = "INIT"
	StatePlanning      State = "PLANNING"
	StatePlanInvalid   State = "PLAN_INVALID"
	StatePlanMalformed State = "PLAN_MALFORMED"
	StateExecuting     State = "EXECUTING"
	StateDone          State = "DONE"
	StateFatal         State = "FATAL"
)

// Canned responses returned as error frames instead of failing the stream.
const (
	ResponseErrInvalidQuery = "Please provide a valid query related to your dataset or analysis goals."
	ResponseErrNoDataset    = "No dataset is loaded for this session. Upload a dataset or reset the session to the default one."
)

// Frame is one NDJSON line in the response stream.
type Frame struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Emitter writes frames to the client. An emit failure means the transport
// is dead and execution aborts as fatal.
type Emitter interface {
	Emit(Frame) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Frame) error

func (f EmitterFunc) Emit(fr Frame) error { return f(fr) }

// planService is satisfied by *planner.Planner.
type planService interface {
	Plan(ctx context.Context, req planner.Request) (planner.Plan, provider.Response, error)
}

// resolverService is satisfied by *agents.Resolver.
type resolverService interface {
	Resolve(ctx context.Context, userID, names string) (agents.Resolution, error)
	Available(ctx context.Context, userID string) ([]agents.Definition, error)
}

// Request is one chat turn to execute.
type Request struct {
	Session   session.Record
	Query     string
	Streaming bool
}

// Result is the terminal outcome of a request.
type Result struct {
	State   State
	Plan    planner.Plan
	Results map[string]string // agent name -> content, custom path merge included
	Err     error
	Timeout bool
}

// DirectRequest names the agents to run without planning: a comma-joined
// list in caller order, every agent fed the same query.
type DirectRequest struct {
	Session    session.Record
	AgentNames string
	Query      string
}

// DirectResult is the outcome of a direct invocation. Response concatenates
// the per-agent outputs in caller order.
type DirectResult struct {
	Results  map[string]string
	Response string
}

// ErrNoDataset rejects execution on a session without a loaded dataset.
var ErrNoDataset = errors.New("no dataset loaded for session")

// ErrEmptyQuery rejects execution of a blank query.
var ErrEmptyQuery = errors.New("query is empty")

// TimeoutError marks a request that ran out of its shared budget.
type TimeoutError struct{ Err error }

func (e *TimeoutError) Error() string { return e.Err.Error() }
func (e *TimeoutError) Unwrap() error { return e.Err }

// Executor drives the request state machine:
//
//	INIT -> PLANNING -> {PLAN_INVALID, PLAN_MALFORMED, EXECUTING}
//	EXECUTING -> per step {error frame, continue} -> DONE
//	budget exhaustion or transport death -> FATAL
//
// Steps run iteratively in plan order; a failing step never aborts the
// remaining steps. Direct invocation skips PLANNING and runs the named
// agents through the same step loop.
type Executor struct {
	planner  planService
	resolver resolverService
	registry planner.ProviderSource
	meter    *usage.Meter
	cfg      config.ExecutorConfig
	logger   *log.Logger
}

// New builds an Executor.
func New(p planService, r resolverService, registry planner.ProviderSource, meter *usage.Meter, cfg config.ExecutorConfig, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	return &Executor{planner: p, resolver: r, registry: registry, meter: meter, cfg: cfg, logger: logger}
}

// Execute runs one chat turn, emitting frames as steps finish. It always
// returns a Result; Err is set for FATAL outcomes only.
func (e *Executor) Execute(ctx context.Context, req Request, emit Emitter) Result {
	started := time.Now()
	res := e.run(ctx, req, emit)
	usage.ObserveRequest(string(res.State), time.Since(started).Seconds())
	return res
}

// requestBudget overlays operator cost/token caps onto the wall-clock limit.
func (e *Executor) requestBudget() budget.Config {
	seconds := int64((e.cfg.RequestTimeout + time.Second - 1) / time.Second)
	cfg := budget.ForRequest(seconds)
	var override budget.Config
	if e.cfg.MaxCostPerRequest > 0 {
		v := e.cfg.MaxCostPerRequest
		override.MaxCost = &v
	}
	if e.cfg.MaxTokensPerRequest > 0 {
		v := e.cfg.MaxTokensPerRequest
		override.MaxTokens = &v
	}
	if !override.IsZero() {
		cfg = budget.Merge(cfg, override)
	}
	return cfg
}

func (e *Executor) run(ctx context.Context, req Request, emit Emitter) Result {
	if strings.TrimSpace(req.Query) == "" {
		e.emitError(emit, "system", ResponseErrInvalidQuery)
		return Result{State: StatePlanInvalid}
	}
	if strings.TrimSpace(req.Session.Dataset) == "" {
		e.emitError(emit, "system", ResponseErrNoDataset)
		return Result{State: StatePlanInvalid}
	}

	mon := budget.NewMonitor(e.requestBudget())
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	// PLANNING
	available, err := e.resolver.Available(ctx, req.Session.UserID)
	if err != nil {
		e.logger.Printf("warn: listing agents: %v", err)
	}
	var recent []string
	for _, m := range req.Session.RecentMessages {
		recent = append(recent, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	planStarted := time.Now()
	plan, planResp, planErr := e.planner.Plan(ctx, planner.Request{
		Query:       req.Query,
		ChatContext: planner.ChatContext(recent),
		Dataset:     req.Session.Dataset,
		FrameName:   req.Session.FrameName,
		Description: req.Session.Description,
		Available:   available,
		Settings:    req.Session.ModelSettings,
	})
	e.track(req, planResp, time.Since(planStarted))
	if err := e.chargeBudget(mon, planResp); err != nil {
		return e.fatalBudget(mon, planner.Plan{}, nil, err)
	}

	if planErr != nil {
		switch {
		case errors.Is(planErr, planner.ErrPlanNotFound):
			e.emitError(emit, "planner", ResponseErrInvalidQuery)
			return Result{State: StatePlanInvalid, Err: nil}
		case errors.Is(planErr, planner.ErrPlanMalformed):
			e.emitError(emit, "planner", planner.ErrPlanMalformed.Error())
			return Result{State: StatePlanMalformed, Err: nil}
		default:
			if ctx.Err() != nil {
				return e.fatalBudget(mon, planner.Plan{}, nil, budget.ErrExceeded{Kind: "time", Usage: e.cfg.RequestTimeout.String()})
			}
			return e.fatal(planErr)
		}
	}

	resolution, err := e.resolver.Resolve(ctx, req.Session.UserID, strings.Join(plan.Agents, ","))
	if err != nil {
		var nf *agents.NotFoundError
		if errors.As(err, &nf) {
			e.emitError(emit, "planner", nf.Error())
			return Result{State: StatePlanInvalid, Plan: plan}
		}
		return e.fatal(err)
	}

	// EXECUTING: one step at a time in plan order. The custom path shares
	// the same loop; results merge into one name-keyed map that later steps
	// can build on.
	results := make(map[string]string, len(resolution.Agents))
	for _, step := range resolution.Agents {
		if err := mon.CheckTime(); err != nil {
			return e.fatalBudget(mon, plan, results, err)
		}

		stepStarted := time.Now()
		content, resp, stepErr := e.runStep(ctx, req, step, plan.Instructions[step.Name], results, resolution.CustomPath)
		e.track(req, resp, time.Since(stepStarted))
		if err := e.chargeBudget(mon, resp); err != nil {
			return e.fatalBudget(mon, plan, results, err)
		}

		display := agents.DisplayName(step.Name)
		if stepErr != nil {
			if ctx.Err() != nil {
				return e.fatalBudget(mon, plan, results, budget.ErrExceeded{Kind: "time", Usage: e.cfg.RequestTimeout.String()})
			}
			// per-step isolation: report and continue with the next step
			usage.ObserveStep(display, StatusError)
			e.logger.Printf("step %s failed: %v", step.Name, stepErr)
			if err := emit.Emit(Frame{Agent: display, Content: stepErr.Error(), Status: StatusError}); err != nil {
				return e.fatal(err)
			}
			continue
		}

		usage.ObserveStep(display, StatusSuccess)
		results[step.Name] = content
		if err := emit.Emit(Frame{Agent: display, Content: content, Status: StatusSuccess}); err != nil {
			return e.fatal(err)
		}
	}

	cost, tokens, elapsed := mon.Usage()
	e.logger.Printf("request done in %s: $%.4f, %d tokens", elapsed.Round(time.Millisecond), cost, tokens)
	return Result{State: StateDone, Plan: plan, Results: results}
}

// Direct runs the named agents without planning, strictly sequentially in
// caller order, each fed the same query. Per-step failures surface inline
// under the agent's heading; only resolution failures, a missing dataset or
// budget exhaustion abort the call.
func (e *Executor) Direct(ctx context.Context, req DirectRequest) (DirectResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return DirectResult{}, ErrEmptyQuery
	}
	if strings.TrimSpace(req.Session.Dataset) == "" {
		return DirectResult{}, ErrNoDataset
	}

	mon := budget.NewMonitor(e.requestBudget())
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	resolution, err := e.resolver.Resolve(ctx, req.Session.UserID, req.AgentNames)
	if err != nil {
		return DirectResult{}, err
	}

	results := make(map[string]string, len(resolution.Agents))
	var b strings.Builder
	for _, step := range resolution.Agents {
		if err := mon.CheckTime(); err != nil {
			return DirectResult{}, &TimeoutError{Err: err}
		}

		stepStarted := time.Now()
		content, resp, stepErr := e.runStep(ctx, req.toRequest(), step, req.Query, results, resolution.CustomPath)
		e.track(req.toRequest(), resp, time.Since(stepStarted))
		if err := e.chargeBudget(mon, resp); err != nil {
			return DirectResult{}, &TimeoutError{Err: err}
		}

		display := agents.DisplayName(step.Name)
		if stepErr != nil {
			if ctx.Err() != nil {
				return DirectResult{}, &TimeoutError{Err: budget.ErrExceeded{Kind: "time", Usage: e.cfg.RequestTimeout.String()}}
			}
			usage.ObserveStep(display, StatusError)
			e.logger.Printf("direct step %s failed: %v", step.Name, stepErr)
			content = stepErr.Error()
		} else {
			usage.ObserveStep(display, StatusSuccess)
		}

		// duplicate names overwrite silently
		results[step.Name] = content
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", display, content)
	}

	cost, tokens, elapsed := mon.Usage()
	e.logger.Printf("direct done in %s: $%.4f, %d tokens", elapsed.Round(time.Millisecond), cost, tokens)
	return DirectResult{Results: results, Response: b.String()}, nil
}

func (r DirectRequest) toRequest() Request {
	return Request{Session: r.Session, Query: r.Query}
}

// runStep invokes one agent. A batch on the custom path routes every step
// through the custom prompt, builtin names included.
func (e *Executor) runStep(ctx context.Context, req Request, step agents.Resolved, instruction string, prior map[string]string, customPath bool) (string, provider.Response, error) {
	settings := modelcfg.ApplySafeguards(req.Session.ModelSettings)
	prov, err := e.registry.For(settings)
	if err != nil {
		return "", provider.Response{}, err
	}

	var prompt string
	if customPath || step.Definition.Kind == agents.KindCustom {
		prompt = buildCustomPrompt(req, step, instruction, prior)
	} else {
		prompt = buildBuiltinPrompt(req, step, instruction, prior)
	}

	resp, err := prov.Generate(ctx, provider.Request{
		System:   step.Definition.Prompt,
		Prompt:   prompt,
		Settings: settings,
	})
	if err != nil {
		return "", resp, err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", resp, fmt.Errorf("agent %s returned no content", step.Definition.Name)
	}
	return resp.Content, resp, nil
}

// defaultStylingIndex guides visual output for agents that declare the
// styling_index input.
const defaultStylingIndex = "Use a clean default theme: readable axis labels, no chart junk, consistent colour palette."

func buildBuiltinPrompt(req Request, step agents.Resolved, instruction string, prior map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\n\n", step.Definition.Name, step.Definition.Description)
	fmt.Fprintf(&b, "Dataset: %s (loaded as %s)\n%s\n\n", req.Session.Dataset, req.Session.FrameName, req.Session.Description)
	if instruction != "" {
		fmt.Fprintf(&b, "Instruction: %s\n\n", instruction)
	}
	fmt.Fprintf(&b, "User query: %s\n", req.Query)
	writePriorResults(&b, prior)
	return b.String()
}

// buildCustomPrompt exposes only the inputs the agent declared. Builtin
// agents carried onto the custom path declare nothing, so they receive the
// dataset and goal.
func buildCustomPrompt(req Request, step agents.Resolved, instruction string, prior map[string]string) string {
	goal := instruction
	if goal == "" {
		goal = req.Query
	}
	inputs := step.Definition.Inputs
	if step.Definition.Kind != agents.KindCustom && len(inputs) == 0 {
		inputs = []string{"dataset", "goal", "Agent_desc"}
	}
	var b strings.Builder
	for _, input := range inputs {
		switch input {
		case "dataset":
			fmt.Fprintf(&b, "dataset: %s (loaded as %s)\n%s\n\n", req.Session.Dataset, req.Session.FrameName, req.Session.Description)
		case "styling_index":
			fmt.Fprintf(&b, "styling_index: %s\n\n", defaultStylingIndex)
		case "goal":
			fmt.Fprintf(&b, "goal: %s\n\n", goal)
		case "Agent_desc":
			fmt.Fprintf(&b, "Agent_desc: %s\n\n", step.Definition.Description)
		}
	}
	writePriorResults(&b, prior)
	return b.String()
}

func writePriorResults(b *strings.Builder, prior map[string]string) {
	if len(prior) == 0 {
		return
	}
	b.WriteString("\nResults from earlier steps:\n")
	for name, content := range prior {
		fmt.Fprintf(b, "--- %s ---\n%s\n", agents.DisplayName(name), content)
	}
}

// chargeBudget reports the call's tokens and priced cost into the monitor.
func (e *Executor) chargeBudget(mon *budget.Monitor, resp provider.Response) error {
	tokens := resp.PromptTokens + resp.CompletionTokens
	if tokens == 0 {
		return nil
	}
	cost := usage.Cost(resp.Model, resp.PromptTokens, resp.CompletionTokens)
	return mon.Add(cost, tokens)
}

func (e *Executor) track(req Request, resp provider.Response, elapsed time.Duration) {
	if e.meter == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = req.Session.ModelSettings.Model
	}
	prompt := resp.PromptTokens
	completion := resp.CompletionTokens
	if prompt == 0 && completion == 0 {
		prompt = e.meter.CountTokens(model, req.Query)
		completion = e.meter.CountTokens(model, resp.Content)
	}
	e.meter.Track(usage.Record{
		UserID:           req.Session.UserID,
		ChatID:           req.Session.ChatID,
		ModelName:        model,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		QuerySize:        len(req.Query),
		ResponseSize:     len(resp.Content),
		RequestTimeMS:    elapsed.Milliseconds(),
		IsStreaming:      req.Streaming,
	})
}

func (e *Executor) emitError(emit Emitter, agent, msg string) {
	if emit == nil {
		return
	}
	if err := emit.Emit(Frame{Agent: agent, Content: msg, Status: StatusError}); err != nil {
		e.logger.Printf("emit failed: %v", err)
	}
}

// fatal ends the request without emitting: the HTTP surface decides whether
// a status code or a trailing error frame is still possible.
func (e *Executor) fatal(err error) Result {
	e.logger.Printf("fatal: %v", err)
	return Result{State: StateFatal, Err: err}
}

func (e *Executor) fatalBudget(mon *budget.Monitor, plan planner.Plan, results map[string]string, err error) Result {
	cost, tokens, elapsed := mon.Usage()
	limits := mon.Config()
	e.logger.Printf("budget exhausted after %s ($%.4f, %d tokens, limits cost=%v tokens=%v time=%v): %v",
		elapsed.Round(time.Millisecond), cost, tokens,
		deref(limits.MaxCost), deref(limits.MaxTokens), deref(limits.MaxTimeSeconds), err)
	var exceeded budget.ErrExceeded
	timeout := errors.As(err, &exceeded) && exceeded.IsTimeout()
	return Result{State: StateFatal, Plan: plan, Results: results, Err: err, Timeout: timeout}
}

func deref[T any](p *T) interface{} {
	if p == nil {
		return "-"
	}
	return *p
}
