package kernel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/GoCodeAlone/kernel/descriptor"
)

// CallbackBinding is a single-parameter method of a live bean registered to
// receive values of its parameter type.
type CallbackBinding struct {
	Kind     descriptor.CallbackKind
	Type     reflect.Type
	Owner    string
	Method   *Callable
	Instance any
}

// Accepts reports whether v can be passed to the binding.
func (b *CallbackBinding) Accepts(t reflect.Type) bool {
	return t != nil && t.AssignableTo(b.Type)
}

// Invoke calls the bound method with v.
func (b *CallbackBinding) Invoke(v any) error {
	_, err := b.Method.Call(b.Instance, []any{v})
	return err
}

// CallbackRegistry is a multi-map of callback bindings keyed by parameter
// type. It is safe for concurrent use.
type CallbackRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type][]*CallbackBinding
}

// NewCallbackRegistry creates an empty callback registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{byType: make(map[reflect.Type][]*CallbackBinding)}
}

// Register adds a binding.
func (r *CallbackRegistry) Register(b *CallbackBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[b.Type] = append(r.byType[b.Type], b)
}

// Unregister removes every binding owned by the named bean.
func (r *CallbackRegistry) Unregister(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, bs := range r.byType {
		bs = slices.DeleteFunc(bs, func(b *CallbackBinding) bool { return b.Owner == owner })
		if len(bs) == 0 {
			delete(r.byType, t)
		} else {
			r.byType[t] = bs
		}
	}
}

// Lookup returns the bindings of any kind whose parameter type accepts t.
// No order is guaranteed among them.
func (r *CallbackRegistry) Lookup(t reflect.Type) []*CallbackBinding {
	return r.lookup("", t)
}

// LookupKind returns the bindings of one kind whose parameter type accepts t.
func (r *CallbackRegistry) LookupKind(kind descriptor.CallbackKind, t reflect.Type) []*CallbackBinding {
	return r.lookup(kind, t)
}

func (r *CallbackRegistry) lookup(kind descriptor.CallbackKind, t reflect.Type) []*CallbackBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*CallbackBinding
	for pt, bs := range r.byType {
		if t == nil || !t.AssignableTo(pt) {
			continue
		}
		for _, b := range bs {
			if kind == "" || b.Kind == kind {
				out = append(out, b)
			}
		}
	}
	return out
}

// Dispatch invokes every binding of the given kind accepting v, skipping
// bindings owned by skip. Errors of all bindings are joined.
func (r *CallbackRegistry) Dispatch(ctx context.Context, kind descriptor.CallbackKind, v any, skip string) error {
	if v == nil {
		return nil
	}
	var errs []error
	for _, b := range r.LookupKind(kind, reflect.TypeOf(v)) {
		if b.Owner == skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := b.Invoke(v); err != nil {
			errs = append(errs, fmt.Errorf("%s.%s: %w", b.Owner, b.Method.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of registered bindings.
func (r *CallbackRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, bs := range r.byType {
		n += len(bs)
	}
	return n
}

// bindCallbacks resolves the callback declarations of a bean. The first
// registered method with the declared name and exactly one parameter is
// bound.
func bindCallbacks(owner string, instance any, td *TypeDescriptor, specs []descriptor.Callback) ([]*CallbackBinding, error) {
	out := make([]*CallbackBinding, 0, len(specs))
	for _, s := range specs {
		m, ok := td.LookupMethod(s.Method, 1)
		if !ok {
			return nil, fmt.Errorf("%w: %s method %q with one parameter not found", ErrBinding, s.Kind, s.Method)
		}
		out = append(out, &CallbackBinding{
			Kind:     s.Kind,
			Type:     m.Params[0],
			Owner:    owner,
			Method:   m,
			Instance: instance,
		})
	}
	return out, nil
}
