// Package health tracks the liveness of long-running components so the
// HTTP surface can report them without reaching into each one.
package health

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDisabled = "disabled"
	StateStopped  = "stopped"
)

// Reporter is the write side handed to components.
type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

// Component is one entry of a snapshot.
type Component struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	UpdatedAtUnix int64  `json:"updated_at_unix"`
}

type Snapshot struct {
	GeneratedAtUnix int64       `json:"generated_at_unix"`
	Overall         string      `json:"overall"`
	Components      []Component `json:"components"`
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]Component
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries: map[string]Component{},
		now:     time.Now,
	}
}

func (r *Registry) Starting(component, message string) {
	r.set(component, StateStarting, message, nil)
}

func (r *Registry) Beat(component, message string) {
	r.set(component, StateHealthy, message, nil)
}

func (r *Registry) Degrade(component, message string, err error) {
	r.set(component, StateDegraded, message, err)
}

func (r *Registry) Disabled(component, message string) {
	r.set(component, StateDisabled, message, nil)
}

func (r *Registry) Stopped(component, message string) {
	r.set(component, StateStopped, message, nil)
}

func (r *Registry) set(component, state, message string, err error) {
	name := strings.TrimSpace(component)
	if name == "" {
		return
	}
	entry := Component{
		Name:          name,
		State:         state,
		Message:       strings.TrimSpace(message),
		UpdatedAtUnix: r.now().UTC().Unix(),
	}
	if err != nil {
		entry.Error = strings.TrimSpace(err.Error())
	}
	r.mu.Lock()
	r.entries[name] = entry
	r.mu.Unlock()
}

// Snapshot lists every known component sorted by name. Overall is
// degraded as soon as any non-disabled component is.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	components := make([]Component, 0, len(r.entries))
	for _, entry := range r.entries {
		components = append(components, entry)
	}
	r.mu.RUnlock()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	overall := StateHealthy
	for _, entry := range components {
		if entry.State == StateDegraded {
			overall = StateDegraded
			break
		}
	}
	return Snapshot{
		GeneratedAtUnix: r.now().UTC().Unix(),
		Overall:         overall,
		Components:      components,
	}
}
