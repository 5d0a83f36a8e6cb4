package middleware

import (
	"log/slog"
	"sort"
)

// NextHandler continues the chain to whatever comes after the current
// middleware (another middleware, or the pipeline's final handler).
type NextHandler func(ctx *Context) (Response, *AbortError)

// Middleware is one link in the chain. Process must call next exactly
// once to continue the chain, or return (Response{}, abortErr) to
// short-circuit it.
type Middleware interface {
	Name() string
	Priority() int
	Process(ctx *Context, next NextHandler) (Response, *AbortError)
}

// Pipeline runs a priority-ordered chain of Middleware over a Context,
// grounded in the original `Pipeline` (core/middleware/pipeline.py):
// higher priority runs first (outermost), ties broken by registration
// order via a stable sort.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// NewPipeline creates an empty pipeline.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger}
}

// Add appends middleware and resorts the chain by priority descending.
func (p *Pipeline) Add(m Middleware) *Pipeline {
	p.middlewares = append(p.middlewares, m)
	sort.SliceStable(p.middlewares, func(i, j int) bool {
		return p.middlewares[i].Priority() > p.middlewares[j].Priority()
	})
	return p
}

// Remove drops the middleware with the given name, if present.
func (p *Pipeline) Remove(name string) *Pipeline {
	out := p.middlewares[:0]
	for _, m := range p.middlewares {
		if m.Name() != name {
			out = append(out, m)
		}
	}
	p.middlewares = out
	return p
}

// Get returns the middleware with the given name, or nil.
func (p *Pipeline) Get(name string) Middleware {
	for _, m := range p.middlewares {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// Len returns the number of middleware registered.
func (p *Pipeline) Len() int { return len(p.middlewares) }

// Execute runs ctx through every middleware in priority order, then
// calls handler (or a default 200 responder if handler is nil).
func (p *Pipeline) Execute(ctx *Context, handler func(*Context) (Response, *AbortError)) Response {
	final := handler
	if final == nil {
		final = func(ctx *Context) (Response, *AbortError) { return OK(nil), nil }
	}

	// Build from the inside out: the lowest-priority middleware wraps
	// the handler first, the highest-priority middleware wraps
	// everything else last and so ends up outermost (runs first).
	chain := final
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		m := p.middlewares[i]
		inner := chain
		// next always hands back a populated Response, converting an
		// inner abort via FromAbort before it reaches m, so a
		// higher-priority middleware can still read (and add to)
		// resp.Headers on the way back out even though the chain
		// short-circuited below it.
		next := func(ctx *Context) (Response, *AbortError) {
			resp, abort := inner(ctx)
			if abort != nil && resp.Status == 0 {
				resp = FromAbort(abort)
			}
			return resp, abort
		}
		chain = func(ctx *Context) (Response, *AbortError) {
			return m.Process(ctx, next)
		}
	}

	resp, abort := chain(ctx)
	if abort != nil {
		p.logger.Debug("pipeline aborted", "status", abort.Status, "message", abort.Message)
		if resp.Status == 0 {
			return FromAbort(abort)
		}
	}
	return resp
}
