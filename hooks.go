package kernel

import (
	"context"
	"fmt"
)

// Creatable is implemented by beans with a create hook. A registered
// "Create" method takes precedence over the interface.
type Creatable interface {
	Create(ctx context.Context) error
}

// Startable is implemented by beans with a start hook.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is implemented by beans with a stop hook.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// Destroyable is implemented by beans with a destroy hook.
type Destroyable interface {
	Destroy(ctx context.Context) error
}

// Lifecycle hook method names.
const (
	HookCreate  = "Create"
	HookStart   = "Start"
	HookStop    = "Stop"
	HookDestroy = "Destroy"
)

// lookupNoArg finds a registered method callable without descriptor
// arguments: either zero parameters or a single context.Context.
func lookupNoArg(td *TypeDescriptor, name string) (*Callable, bool) {
	if m, ok := td.LookupMethod(name, 0); ok {
		return m, true
	}
	if td == nil {
		return nil, false
	}
	for _, m := range td.Methods(name, 1) {
		if m.takesContext() {
			return m, true
		}
	}
	return nil, false
}

func callNoArg(ctx context.Context, m *Callable, instance any) error {
	var args []any
	if m.takesContext() {
		args = []any{ctx}
	}
	_, err := m.Call(instance, args)
	return err
}

// runHook invokes the named lifecycle hook if the bean has one. A missing
// hook is not an error; an error returned by a present hook is.
func runHook(ctx context.Context, instance any, td *TypeDescriptor, name string) error {
	if m, ok := lookupNoArg(td, name); ok {
		if err := callNoArg(ctx, m, instance); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrLifecycleHook, name, err)
		}
		return nil
	}

	var err error
	switch name {
	case HookCreate:
		if h, ok := instance.(Creatable); ok {
			err = h.Create(ctx)
		}
	case HookStart:
		if h, ok := instance.(Startable); ok {
			err = h.Start(ctx)
		}
	case HookStop:
		if h, ok := instance.(Stoppable); ok {
			err = h.Stop(ctx)
		}
	case HookDestroy:
		if h, ok := instance.(Destroyable); ok {
			err = h.Destroy(ctx)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLifecycleHook, name, err)
	}
	return nil
}

// resolveMethods looks up install or uninstall methods by name.
func resolveMethods(td *TypeDescriptor, names []string) ([]*Callable, error) {
	out := make([]*Callable, 0, len(names))
	for _, n := range names {
		m, ok := lookupNoArg(td, n)
		if !ok {
			return nil, fmt.Errorf("%w: unknown method %q", ErrResolution, n)
		}
		out = append(out, m)
	}
	return out, nil
}

// runMethods invokes methods in order and stops at the first error.
func runMethods(ctx context.Context, instance any, methods []*Callable) error {
	for _, m := range methods {
		if err := callNoArg(ctx, m, instance); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrLifecycleHook, m.Name, err)
		}
	}
	return nil
}
