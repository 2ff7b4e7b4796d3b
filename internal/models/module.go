package models

import (
	"errors"
	"strings"
	"time"
)

// DefaultVisibilityTimeout is the queue lock timeout used for modules
// without an explicit override.
const DefaultVisibilityTimeout = 2 * time.Minute

var ErrUnknownModule = errors.New("unknown module")

// Module is one category of remote CRM record (e.g. "Leads", "Deals").
// The set of modules is fixed at startup and never extended at runtime.
type Module struct {
	Name              string
	Priority          int // lower = polled first
	VisibilityTimeout time.Duration
}

// ModuleRegistry maps module names to their configuration. It is built once
// at startup so that the worker and the poller branch on the same closed set
// instead of scattering string comparisons across call sites.
type ModuleRegistry struct {
	byName  map[string]Module
	ordered []Module
}

// NewModuleRegistry builds a registry from a priority-ordered list of module
// names. timeouts may override the visibility timeout per module (keyed by
// lowercase name); missing entries get DefaultVisibilityTimeout.
func NewModuleRegistry(names []string, timeouts map[string]time.Duration) *ModuleRegistry {
	r := &ModuleRegistry{byName: make(map[string]Module, len(names))}
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, exists := r.byName[key]; exists {
			continue
		}
		m := Module{
			Name:              name,
			Priority:          i,
			VisibilityTimeout: DefaultVisibilityTimeout,
		}
		if t, ok := timeouts[key]; ok && t > 0 {
			m.VisibilityTimeout = t
		}
		r.byName[key] = m
		r.ordered = append(r.ordered, m)
	}
	return r
}

// Get looks up a module by name, case-insensitively.
func (r *ModuleRegistry) Get(name string) (Module, bool) {
	m, ok := r.byName[strings.ToLower(name)]
	return m, ok
}

// Ordered returns all modules in priority order.
func (r *ModuleRegistry) Ordered() []Module {
	out := make([]Module, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *ModuleRegistry) Len() int {
	return len(r.ordered)
}
