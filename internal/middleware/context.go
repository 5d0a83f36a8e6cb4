// Package middleware implements the gateway's Middleware Pipeline: a
// priority-ordered chain-of-responsibility over a shared Context,
// grounded in the original core/middleware package.
package middleware

import "context"

// AbortError short-circuits the pipeline without calling the next
// handler. Earlier (higher-priority) middleware still observes the
// resulting Response on the way back out (Pipeline.Execute converts
// the abort to a Response before it reaches them), and may add to its
// Headers before it is returned to the caller.
type AbortError struct {
	Status  int
	Message string
	Data    map[string]any
}

func (e *AbortError) Error() string { return e.Message }

// Response is the final result of running a pipeline.
type Response struct {
	Status  int
	Body    map[string]any
	Headers map[string]string
	Message string
}

// OK builds a 200 response wrapping body.
func OK(body map[string]any) Response {
	if body == nil {
		body = map[string]any{}
	}
	return Response{Status: 200, Body: body}
}

// ErrorResponse builds an error response, merging data into the body
// alongside the "error" field, mirroring the original's Response.error.
func ErrorResponse(status int, message string, data map[string]any) Response {
	body := map[string]any{"error": message}
	for k, v := range data {
		body[k] = v
	}
	return Response{Status: status, Message: message, Body: body}
}

// FromAbort converts an AbortError into its equivalent Response.
func FromAbort(a *AbortError) Response {
	return ErrorResponse(a.Status, a.Message, a.Data)
}

// Context flows through the middleware chain. Unlike context.Context
// it is mutable by design: middleware append to Data, and the pipeline
// itself is the only thing that reads Response back out once the chain
// unwinds.
type Context struct {
	Ctx      context.Context
	Method   string
	Path     string
	Headers  map[string]string
	Body     any
	User     map[string]any
	Data     map[string]any
}

// NewContext builds a Context for one request.
func NewContext(ctx context.Context, method, path string, headers map[string]string, body any) *Context {
	return &Context{
		Ctx:     ctx,
		Method:  method,
		Path:    path,
		Headers: headers,
		Body:    body,
		Data:    make(map[string]any),
	}
}

// Abort raises an AbortError, stopping the chain. Go has no implicit
// exception propagation, so callers must `return Response{}, ctx.Abort(...)`
// from within a Middleware.Process implementation.
func (c *Context) Abort(status int, message string, data map[string]any) *AbortError {
	return &AbortError{Status: status, Message: message, Data: data}
}

// Header returns a request header, or "" if absent.
func (c *Context) Header(name string) string {
	return c.Headers[name]
}

// IsAuthenticated reports whether User is set and not explicitly marked
// unauthenticated.
func (c *Context) IsAuthenticated() bool {
	if c.User == nil {
		return false
	}
	if authed, ok := c.User["authenticated"].(bool); ok {
		return authed
	}
	return true
}

// HasPermission reports whether the authenticated user carries
// permission in its "permissions" slice.
func (c *Context) HasPermission(permission string) bool {
	if c.User == nil {
		return false
	}
	perms, ok := c.User["permissions"].([]string)
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}
