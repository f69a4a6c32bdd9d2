package nightshift

import "sync"

// registry maps task types to runners. Collaborators register in unspecified
// order relative to scheduler start, so lookups must be cheap, concurrent and
// tolerant of types that have no runner yet.
type registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// register installs a runner for a task type. Last registration wins.
func (r *registry) register(taskType string, fn Runner) {
	r.mu.Lock()
	if r.runners == nil {
		r.runners = map[string]Runner{}
	}
	r.runners[taskType] = fn
	r.mu.Unlock()
}

func (r *registry) lookup(taskType string) (Runner, bool) {
	r.mu.RLock()
	fn, ok := r.runners[taskType]
	r.mu.RUnlock()
	return fn, ok
}
