package kernel

import (
	"slices"
	"sync"
	"time"
)

type unitState int

const (
	unitActive unitState = iota
	unitUndeployed
	unitFailed
)

// unitBean is what teardown needs to know about one started bean.
type unitBean struct {
	name          string
	instance      any
	td            *TypeDescriptor
	uninstall     []*Callable
	ignoreStop    bool
	ignoreDestroy bool
}

// Unit is the result of a successful submission: the beans that reached
// Started, in completion order, together with what is needed to tear them
// down. The set of beans never changes after Deploy returns.
type Unit struct {
	id         string
	source     string
	deployedAt time.Time
	beans      []*unitBean

	mu    sync.Mutex
	state unitState
}

func newUnit(id, source string, beans []*unitBean) *Unit {
	return &Unit{id: id, source: source, deployedAt: time.Now(), beans: beans}
}

// ID is the unique identifier of the submission that produced the unit.
func (u *Unit) ID() string { return u.id }

// Source is the deployment source the unit was built from.
func (u *Unit) Source() string { return u.source }

// DeployedAt is when the unit finished activating.
func (u *Unit) DeployedAt() time.Time { return u.deployedAt }

// Names returns the bean names in activation completion order.
func (u *Unit) Names() []string {
	out := make([]string, len(u.beans))
	for i, b := range u.beans {
		out[i] = b.name
	}
	return out
}

// Bean returns the instance of a bean in the unit.
func (u *Unit) Bean(name string) (any, bool) {
	for _, b := range u.beans {
		if b.name == name {
			return b.instance, true
		}
	}
	return nil, false
}

// Beans returns every instance in the unit keyed by bean name.
func (u *Unit) Beans() map[string]any {
	out := make(map[string]any, len(u.beans))
	for _, b := range u.beans {
		out[b.name] = b.instance
	}
	return out
}

// Uninstall returns the uninstall method names recorded for a bean.
func (u *Unit) Uninstall(name string) []string {
	for _, b := range u.beans {
		if b.name == name {
			out := make([]string, len(b.uninstall))
			for i, m := range b.uninstall {
				out[i] = m.Name
			}
			return out
		}
	}
	return nil
}

// IgnoresStop reports whether teardown skips the stop hook of a bean.
func (u *Unit) IgnoresStop(name string) bool {
	i := slices.IndexFunc(u.beans, func(b *unitBean) bool { return b.name == name })
	return i >= 0 && u.beans[i].ignoreStop
}

// IgnoresDestroy reports whether teardown skips the destroy hook of a bean.
func (u *Unit) IgnoresDestroy(name string) bool {
	i := slices.IndexFunc(u.beans, func(b *unitBean) bool { return b.name == name })
	return i >= 0 && u.beans[i].ignoreDestroy
}

// Active reports whether the unit is still deployed.
func (u *Unit) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state == unitActive
}

// UnitInfo is a snapshot of a unit.
type UnitInfo struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	DeployedAt time.Time `json:"deployedAt"`
	Beans      []string  `json:"beans"`
}

// Info returns a snapshot of the unit.
func (u *Unit) Info() UnitInfo {
	return UnitInfo{ID: u.id, Source: u.source, DeployedAt: u.deployedAt, Beans: u.Names()}
}
