package render

import "sync"

// Registry is the shared task map: task_id to supervisor. It replaces
// module-level mutable state; the scheduler, the auth manager, and the HTTP
// handlers all receive the same instance by injection.
//
// The scheduler iterates a snapshot, so a long packaging step never holds the
// lock against task creation or deletion.
type Registry struct {
	mu          sync.RWMutex
	supervisors map[string]*Supervisor
	order       []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		supervisors: make(map[string]*Supervisor),
	}
}

// Add indexes a supervisor under its task id, preserving insertion order
func (r *Registry) Add(s *Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.supervisors[s.TaskID()]; ok {
		return
	}
	r.supervisors[s.TaskID()] = s
	r.order = append(r.order, s.TaskID())
}

// Get returns the supervisor for a task id, or nil if none exists (tasks
// persisted across a restart have no supervisor).
func (r *Registry) Get(taskID string) *Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.supervisors[taskID]
}

// Remove drops a supervisor from the registry
func (r *Registry) Remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.supervisors[taskID]; !ok {
		return
	}
	delete(r.supervisors, taskID)
	for i, id := range r.order {
		if id == taskID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns the registered supervisors in insertion order
func (r *Registry) Snapshot() []*Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Supervisor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.supervisors[id])
	}
	return out
}

// Len returns the number of registered supervisors
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.supervisors)
}
