package kernel

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// entry is the live record of one bean.
type entry struct {
	name     string
	status   Status
	instance any
	td       *TypeDescriptor
	err      error

	// done is closed once the bean reaches a terminal state.
	done chan struct{}
}

// registry owns the bean, status and dependants tables. All methods are safe
// for concurrent use.
type registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	// dependants maps a bean to the beans that depend on it.
	dependants map[string]map[string]struct{}
}

func newRegistry() *registry {
	return &registry{
		entries:    make(map[string]*entry),
		dependants: make(map[string]map[string]struct{}),
	}
}

// registerAll registers every name as NotStarted in one step, or none of
// them when any name is already taken. It returns the name that was taken.
func (r *registry) registerAll(names []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		if _, exists := r.entries[n]; exists {
			return n, fmt.Errorf("%w: %s", ErrRegistration, n)
		}
	}
	for _, n := range names {
		r.entries[n] = &entry{name: n, status: NotStarted, done: make(chan struct{})}
	}
	return "", nil
}

// addLive registers an externally constructed instance as Started.
func (r *registry) addLive(name string, instance any, td *TypeDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrRegistration, name)
	}
	done := make(chan struct{})
	close(done)
	r.entries[name] = &entry{name: name, status: Started, instance: instance, td: td, done: done}
	return nil
}

// awaitTerminal blocks until the named bean is Started or Error and returns
// that status. It fails with ErrUnknownDependency when the bean is not
// registered. Registration of a whole submission happens before any of its
// tasks run, so an absent name does not exist.
func (r *registry) awaitTerminal(name string) (Status, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return NotRegistered, fmt.Errorf("%w: %s", ErrUnknownDependency, name)
	}

	<-e.done

	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.status, nil
}

func (r *registry) setStatus(name string, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.status = s
	}
}

// complete moves a bean to its terminal state and wakes its waiters.
func (r *registry) complete(name string, instance any, td *TypeDescriptor, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	if err != nil {
		e.status = Error
		e.err = err
	} else {
		e.status = Started
		e.instance = instance
		e.td = td
	}
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

func (r *registry) status(name string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.status
	}
	return NotRegistered
}

// instance returns a live bean. Beans that are stopping remain visible to
// their own teardown hooks.
func (r *registry) instance(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || (e.status != Started && e.status != Stopping) {
		return nil, false
	}
	return e.instance, true
}

// live returns started beans other than skip, sorted by name.
func (r *registry) live(skip string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for n, e := range r.entries {
		if n != skip && e.status == Started {
			out = append(out, &entry{name: n, status: e.status, instance: e.instance, td: e.td})
		}
	}
	slices.SortFunc(out, func(a, b *entry) int { return cmp.Compare(a.name, b.name) })
	return out
}

// addDependants records that bean depends on each of deps.
func (r *registry) addDependants(bean string, deps []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range deps {
		set, ok := r.dependants[d]
		if !ok {
			set = make(map[string]struct{})
			r.dependants[d] = set
		}
		set[bean] = struct{}{}
	}
}

// liveDependants returns the registered beans that still depend on name.
func (r *registry) liveDependants(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for d := range r.dependants[name] {
		if _, ok := r.entries[d]; ok {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out
}

// remove drops a bean from every table.
func (r *registry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
	delete(r.dependants, name)
	for dep, set := range r.dependants {
		delete(set, name)
		if len(set) == 0 {
			delete(r.dependants, dep)
		}
	}
}

// BeanInfo is a snapshot of one registered bean.
type BeanInfo struct {
	Name       string   `json:"name"`
	Status     Status   `json:"status"`
	Type       string   `json:"type,omitempty"`
	Dependants []string `json:"dependants,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func (r *registry) info(name string) (BeanInfo, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.RUnlock()
		return BeanInfo{}, false
	}
	info := BeanInfo{Name: name, Status: e.status}
	if e.td != nil {
		info.Type = e.td.Name
	} else if e.instance != nil {
		info.Type = fmt.Sprintf("%T", e.instance)
	}
	if e.err != nil {
		info.Error = e.err.Error()
	}
	r.mu.RUnlock()

	info.Dependants = r.liveDependants(name)
	return info, true
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for n := range r.entries {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
