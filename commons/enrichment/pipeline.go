package enrichment

import (
	"context"
	"fmt"
	"sort"
)

// DiagnosticPrefix prefixes the property recording an enricher failure.
const DiagnosticPrefix = "enricher_error."

// Priorities of the built-in enrichers. Higher runs first; ties run in
// registration order. Specific sources run before generic ones so their
// values win on shared names.
const (
	PrioritySource  = 100
	PriorityScope   = 75
	PriorityDefault = 50
	PriorityTrace   = 25
	PriorityBaggage = 10
	PriorityService = 0
)

// Enricher adds properties derived from one category of context.
// Enrich may add zero or more properties; returning an error or panicking
// records a diagnostic instead and never stops the pipeline.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, record *Record, factory PropertyFactory) error
}

// Prioritized is implemented by enrichers that want an explicit position.
// Enrichers without it run at PriorityDefault.
type Prioritized interface {
	Priority() int
}

type enricherFunc struct {
	name     string
	priority int
	fn       func(ctx context.Context, record *Record, factory PropertyFactory) error
}

func (e enricherFunc) Name() string  { return e.name }
func (e enricherFunc) Priority() int { return e.priority }

func (e enricherFunc) Enrich(ctx context.Context, record *Record, factory PropertyFactory) error {
	return e.fn(ctx, record, factory)
}

// NewEnricherFunc adapts a function to an Enricher.
func NewEnricherFunc(name string, priority int, fn func(ctx context.Context, record *Record, factory PropertyFactory) error) Enricher {
	return enricherFunc{name: name, priority: priority, fn: fn}
}

// Pipeline runs a fixed list of enrichers in a deterministic order.
// It is immutable once built and safe for concurrent use.
type Pipeline struct {
	enrichers []Enricher
	factory   PropertyFactory
}

// NewPipeline orders enrichers by priority, descending, keeping registration
// order among equals. A nil factory uses DefaultPropertyFactory.
func NewPipeline(factory PropertyFactory, enrichers ...Enricher) *Pipeline {
	if factory == nil {
		factory = DefaultPropertyFactory{}
	}

	ordered := make([]Enricher, 0, len(enrichers))

	for _, e := range enrichers {
		if e != nil {
			ordered = append(ordered, e)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return priorityOf(ordered[i]) > priorityOf(ordered[j])
	})

	return &Pipeline{enrichers: ordered, factory: factory}
}

func priorityOf(e Enricher) int {
	if p, ok := e.(Prioritized); ok {
		return p.Priority()
	}

	return PriorityDefault
}

// Names lists the enrichers in execution order.
func (p *Pipeline) Names() []string {
	if p == nil {
		return nil
	}

	names := make([]string, len(p.enrichers))
	for i, e := range p.enrichers {
		names[i] = e.Name()
	}

	return names
}

// Enrich runs every enricher against record.
func (p *Pipeline) Enrich(ctx context.Context, record *Record) {
	if p == nil || record == nil {
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, e := range p.enrichers {
		if err := p.run(ctx, record, e); err != nil {
			record.AddPropertyIfAbsent(Property{
				Name:  DiagnosticPrefix + e.Name(),
				Value: err.Error(),
			})
		}
	}
}

// run isolates one enricher, turning a returned error or a panic into a
// "<kind>: <message>" diagnostic error.
func (p *Pipeline) run(ctx context.Context, record *Record, e Enricher) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if enrichErr := e.Enrich(ctx, record, p.factory); enrichErr != nil {
		return fmt.Errorf("%T: %s", enrichErr, enrichErr.Error())
	}

	return nil
}
