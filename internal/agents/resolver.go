package agents

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CustomSource loads a user's custom agent definitions from storage.
type CustomSource interface {
	ListCustomAgents(ctx context.Context, userID string) ([]CustomAgent, error)
}

// Resolved is one agent name mapped to its definition. Name keeps any dedup
// suffix from the plan; Definition.Name is the catalogue name.
type Resolved struct {
	Name       string
	Definition Definition
}

// Resolution is the outcome of resolving a full agent list. CustomPath is
// true when any resolved agent is custom; the whole request then executes on
// the custom path.
type Resolution struct {
	Agents     []Resolved
	CustomPath bool
}

// Resolver classifies agent names as standard, template or custom, in that
// order. Custom lookups hit storage through a TTL cache.
type Resolver struct {
	source CustomSource
	cache  *customCache
	logger *log.Logger
}

// NewResolver builds a Resolver. rdb may be nil; the cache then lives in
// process.
func NewResolver(source CustomSource, rdb *redis.Client, ttl time.Duration, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENTS] ", log.LstdFlags)
	}
	return &Resolver{
		source: source,
		cache:  newCustomCache(rdb, ttl, logger),
		logger: logger,
	}
}

// Resolve parses a comma-joined agent list and resolves every name. The order
// of the input is preserved. Any unknown name aborts with *NotFoundError
// listing all available agents for the user.
func (r *Resolver) Resolve(ctx context.Context, userID, names string) (Resolution, error) {
	parts := splitNames(names)
	custom, err := r.customAgents(ctx, userID)
	if err != nil {
		// storage trouble must not break the builtin path
		r.logger.Printf("warn: loading custom agents for %q: %v", userID, err)
		custom = nil
	}
	customByName := make(map[string]CustomAgent, len(custom))
	for _, ca := range custom {
		customByName[ca.Name] = ca
	}

	var res Resolution
	for _, name := range parts {
		base := DisplayName(name)
		switch {
		case IsStandard(base):
			res.Agents = append(res.Agents, Resolved{Name: name, Definition: Definition{
				Name:        base,
				Kind:        KindStandard,
				Description: DescriptionFor(base),
			}})
		case IsTemplate(base):
			res.Agents = append(res.Agents, Resolved{Name: name, Definition: Definition{
				Name:        base,
				Kind:        KindTemplate,
				Description: DescriptionFor(base),
			}})
		default:
			ca, ok := customByName[base]
			if !ok {
				return Resolution{}, &NotFoundError{Name: base, Available: r.availableNames(custom)}
			}
			res.Agents = append(res.Agents, Resolved{Name: name, Definition: Definition{
				Name:        ca.Name,
				Kind:        KindCustom,
				Description: ca.Description,
				Prompt:      ca.Prompt,
				Inputs:      restrictInputs(ca.Inputs),
			}})
			res.CustomPath = true
		}
	}
	return res, nil
}

// Available returns every agent name resolvable for the user: standard,
// template (sentinel excluded) and custom.
func (r *Resolver) Available(ctx context.Context, userID string) ([]Definition, error) {
	var out []Definition
	for _, name := range StandardAgents {
		out = append(out, Definition{Name: name, Kind: KindStandard, Description: DescriptionFor(name)})
	}
	for _, name := range TemplateAgents() {
		out = append(out, Definition{Name: name, Kind: KindTemplate, Description: DescriptionFor(name)})
	}
	custom, err := r.customAgents(ctx, userID)
	if err != nil {
		return out, err
	}
	for _, ca := range custom {
		out = append(out, Definition{Name: ca.Name, Kind: KindCustom, Description: ca.Description, Inputs: restrictInputs(ca.Inputs)})
	}
	return out, nil
}

// Invalidate drops the cached custom agent list for a user, typically after
// the user edits their agents.
func (r *Resolver) Invalidate(ctx context.Context, userID string) {
	r.cache.invalidate(ctx, userID)
}

func (r *Resolver) customAgents(ctx context.Context, userID string) ([]CustomAgent, error) {
	if r.source == nil || userID == "" {
		return nil, nil
	}
	if agents, ok := r.cache.get(ctx, userID); ok {
		return agents, nil
	}
	agents, err := r.source.ListCustomAgents(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.cache.put(ctx, userID, agents)
	return agents, nil
}

func (r *Resolver) availableNames(custom []CustomAgent) []string {
	names := append([]string(nil), StandardAgents...)
	names = append(names, TemplateAgents()...)
	for _, ca := range custom {
		names = append(names, ca.Name)
	}
	return names
}

func splitNames(names string) []string {
	var out []string
	for _, part := range strings.Split(names, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// restrictInputs drops any declared input outside the allowed set.
func restrictInputs(inputs []string) []string {
	var out []string
	for _, in := range inputs {
		for _, allowed := range AllowedCustomInputs {
			if in == allowed {
				out = append(out, in)
				break
			}
		}
	}
	return out
}
