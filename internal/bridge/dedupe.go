package bridge

import "sync"

const defaultDedupeWindow = 256

// recentCommands remembers the last window command IDs so client retries are
// applied once.
type recentCommands struct {
	mu     sync.Mutex
	ids    map[string]struct{}
	order  []string
	window int
}

func newRecentCommands(window int) *recentCommands {
	if window <= 0 {
		window = defaultDedupeWindow
	}
	return &recentCommands{
		ids:    map[string]struct{}{},
		order:  make([]string, 0, window),
		window: window,
	}
}

// seen records id and reports whether it was already present. Empty IDs are
// never deduplicated.
func (r *recentCommands) seen(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return true
	}
	r.ids[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > r.window {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.ids, oldest)
	}
	return false
}

// forget drops id so a retry of a rejected command is evaluated again.
func (r *recentCommands) forget(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; !ok {
		return
	}
	delete(r.ids, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
