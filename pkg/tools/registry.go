// Package tools holds the functions the model may call during a session and
// runs its tool calls concurrently.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

var (
	// ErrUnknownTool is reported for calls to unregistered names.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tools: duplicate tool")
)

// Handler executes one call. The returned map becomes the "output" of the
// function response; an error becomes its "error".
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool pairs a declaration sent in the session setup with its handler.
type Tool struct {
	Declaration *genai.FunctionDeclaration
	Handler     Handler
}

// Name returns the declared function name.
func (t Tool) Name() string {
	if t.Declaration == nil {
		return ""
	}
	return t.Declaration.Name
}

// Registry maps tool names to tools. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" || t.Handler == nil {
		return fmt.Errorf("tools: tool needs a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Declarations returns the declarations in registration order.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.tools[name].Declaration)
	}
	return decls
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
