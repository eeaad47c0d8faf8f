package kernel

import (
	"fmt"
	"reflect"

	"github.com/GoCodeAlone/kernel/descriptor"
)

// resolver selects and invokes the constructor or factory method that creates
// a bean.
type resolver struct {
	types  *TypeRegistry
	binder *binder
}

// instantiate creates the bean instance and returns it with the descriptor
// used for its later method calls.
func (r *resolver) instantiate(b *descriptor.Bean) (any, *TypeDescriptor, error) {
	c := b.Constructor
	if c == nil {
		td, err := r.lookup(b.Class)
		if err != nil {
			return nil, nil, err
		}
		ctors := td.Constructors(0)
		if len(ctors) == 0 {
			return nil, nil, fmt.Errorf("%w: %s has no zero-argument constructor", ErrResolution, td.Name)
		}
		return r.invoke(ctors[0], nil, nil, td)
	}

	n := len(c.Parameters)
	var (
		candidates []*Callable
		recv       any
		target     string
		declared   *TypeDescriptor
	)
	switch {
	case c.Factory != nil:
		inst, ok := r.binder.beans.instance(c.Factory.Bean)
		if !ok {
			return nil, nil, fmt.Errorf("%w: factory bean %q is not registered", ErrResolution, c.Factory.Bean)
		}
		ftd, ok := r.types.LookupType(reflect.TypeOf(inst))
		if !ok {
			return nil, nil, fmt.Errorf("%w: factory bean %q has unregistered type %T", ErrResolution, c.Factory.Bean, inst)
		}
		recv = inst
		target = c.Factory.Bean + "." + c.FactoryMethod
		candidates = ftd.Methods(c.FactoryMethod, n)
	case c.FactoryClass != "" || c.FactoryMethod != "":
		class := c.FactoryClass
		if class == "" {
			class = b.Class
		}
		ftd, err := r.lookup(class)
		if err != nil {
			return nil, nil, err
		}
		target = ftd.Name + "." + c.FactoryMethod
		candidates = ftd.Factories(c.FactoryMethod, n)
	default:
		td, err := r.lookup(b.Class)
		if err != nil {
			return nil, nil, err
		}
		declared = td
		target = td.Name
		candidates = td.Constructors(n)
	}

	chosen, err := r.choose(candidates, c.Parameters)
	if err != nil {
		return nil, nil, err
	}
	if chosen == nil {
		return nil, nil, fmt.Errorf("%w: no candidate of %s accepts %d arguments", ErrResolution, target, n)
	}

	args := make([]any, n)
	for i, p := range c.Parameters {
		v, err := r.binder.bind(p, chosen.Params[i], nil)
		if err != nil {
			return nil, nil, fmt.Errorf("parameter %d of %s: %w", i, target, err)
		}
		args[i] = v
	}
	return r.invoke(chosen, recv, args, declared)
}

// choose returns the first candidate, in registration order, whose every
// parameter accepts the corresponding argument.
func (r *resolver) choose(candidates []*Callable, params []descriptor.Value) (*Callable, error) {
	for _, c := range candidates {
		ok, err := r.accepts(c, params)
		if err != nil {
			return nil, err
		}
		if ok {
			return c, nil
		}
	}
	return nil, nil
}

func (r *resolver) accepts(c *Callable, params []descriptor.Value) (bool, error) {
	for i, p := range params {
		want := c.Params[i]
		if p.Type != "" {
			declared, err := r.types.ResolveType(p.Type)
			if err != nil {
				return false, err
			}
			if declared != want {
				return false, nil
			}
			continue
		}
		switch p.Kind() {
		case descriptor.KindInject, descriptor.KindNull:
		case descriptor.KindMap, descriptor.KindList, descriptor.KindSet:
			switch want.Kind() {
			case reflect.Map, reflect.Slice, reflect.Interface:
			default:
				return false, nil
			}
		default:
			if !literalTypes[want] {
				return false, nil
			}
		}
	}
	return true, nil
}

func (r *resolver) invoke(c *Callable, recv any, args []any, declared *TypeDescriptor) (any, *TypeDescriptor, error) {
	inst, err := c.Call(recv, args)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", c.Name, err)
	}
	if isNil(inst) {
		return nil, nil, fmt.Errorf("%w: %s returned no instance", ErrNilInstance, c.Name)
	}
	if td, ok := r.types.LookupType(reflect.TypeOf(inst)); ok {
		return inst, td, nil
	}
	return inst, declared, nil
}

func (r *resolver) lookup(class string) (*TypeDescriptor, error) {
	td, ok := r.types.Lookup(class)
	if !ok {
		return nil, fmt.Errorf("%w: type %q is not registered", ErrResolution, class)
	}
	return td, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
