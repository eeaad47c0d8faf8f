package kernel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/golobby/cast"

	"github.com/GoCodeAlone/kernel/descriptor"
)

var (
	durationType = reflect.TypeFor[time.Duration]()
	runeType     = reflect.TypeFor[rune]()
	anyType      = reflect.TypeFor[any]()

	// hostLookupTimeout bounds the resolution of host name literals.
	hostLookupTimeout = 5 * time.Second

	errNotAnIP    = errors.New("not an IP address or resolvable host")
	errNotLiteral = errors.New("type cannot be bound from a literal")
	errNoChar     = errors.New("empty character literal")
)

// literalTypes are the parameter types a literal argument may target without
// declaring its type explicitly.
var literalTypes = map[reflect.Type]bool{
	reflect.TypeFor[string]():  true,
	reflect.TypeFor[int]():     true,
	reflect.TypeFor[int8]():    true,
	reflect.TypeFor[int16]():   true,
	reflect.TypeFor[int32]():   true,
	reflect.TypeFor[int64]():   true,
	reflect.TypeFor[uint]():    true,
	reflect.TypeFor[uint8]():   true,
	reflect.TypeFor[uint16]():  true,
	reflect.TypeFor[uint32]():  true,
	reflect.TypeFor[uint64]():  true,
	reflect.TypeFor[float32](): true,
	reflect.TypeFor[float64](): true,
	reflect.TypeFor[bool]():    true,
	durationType:               true,
	ipType:                     true,
	typeType:                   true,
}

// beanSource gives the binder access to live bean instances.
type beanSource interface {
	instance(name string) (any, bool)
}

// binder converts descriptor values into typed runtime values.
type binder struct {
	types *TypeRegistry
	props PropertyResolver
	beans beanSource
}

// bind converts v for a parameter or setter of type target. self is the
// instance under construction, used by This values; it is nil while
// constructor arguments are bound.
func (b *binder) bind(v descriptor.Value, target reflect.Type, self any) (any, error) {
	switch v.Kind() {
	case descriptor.KindNull:
		return nil, nil
	case descriptor.KindThis:
		if self == nil {
			return nil, fmt.Errorf("%w: this is not available before construction", ErrBinding)
		}
		return self, nil
	case descriptor.KindInject:
		return b.inject(v.Inject)
	case descriptor.KindMap:
		return b.bindMap(v.Map, target)
	case descriptor.KindList:
		return b.bindList(v.List, target)
	case descriptor.KindSet:
		return b.bindSet(v.Set, target)
	}

	if isCharType(v.Type) {
		return b.character(v.Text)
	}
	if v.Type != "" {
		declared, err := b.types.ResolveType(v.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBinding, err)
		}
		target = declared
	}
	return b.literal(v.Text, target)
}

// inject returns the referenced live bean, or the value of one of its
// properties read through a Get<Name> or Is<Name> accessor.
func (b *binder) inject(ref *descriptor.Inject) (any, error) {
	inst, ok := b.beans.instance(ref.Bean)
	if !ok {
		return nil, fmt.Errorf("%w: injected bean %q is not live", ErrBinding, ref.Bean)
	}
	if ref.Property == "" {
		return inst, nil
	}

	td, _ := b.types.LookupType(reflect.TypeOf(inst))
	for _, prefix := range []string{"Get", "Is"} {
		if m, ok := td.LookupMethod(prefix+capitalize(ref.Property), 0); ok {
			out, err := m.Call(inst, nil)
			if err != nil {
				return nil, fmt.Errorf("%w: reading %s.%s: %w", ErrBinding, ref.Bean, ref.Property, err)
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: bean %q has no accessor for property %q", ErrBinding, ref.Bean, ref.Property)
}

// literal substitutes placeholders in text and parses it as target.
func (b *binder) literal(text string, target reflect.Type) (any, error) {
	s := Substitute(text, b.props)
	if target == nil || target == anyType {
		return s, nil
	}

	fail := func(err error) (any, error) {
		return nil, fmt.Errorf("%w: cannot convert %q to %s: %w", ErrBinding, s, target, err)
	}

	switch target {
	case typeType:
		t, err := b.types.ResolveType(s)
		if err != nil {
			return fail(err)
		}
		return t, nil
	case ipType:
		ip, err := lookupIP(strings.TrimSpace(s))
		if err != nil {
			return fail(err)
		}
		return ip, nil
	case durationType:
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return fail(err)
		}
		return d, nil
	}

	if !isScalar(target) {
		return fail(errNotLiteral)
	}

	parsed, err := cast.FromType(s, target)
	if err != nil {
		// A single non-digit character is accepted as a rune.
		if target == runeType && utf8.RuneCountInString(s) == 1 {
			r, _ := utf8.DecodeRuneInString(s)
			if !unicode.IsDigit(r) {
				return r, nil
			}
		}
		return fail(err)
	}
	return reflect.ValueOf(parsed).Convert(target).Interface(), nil
}

// lookupIP parses an IP literal or resolves a host name to its first
// address.
func lookupIP(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	if host == "" {
		return nil, errNotAnIP
	}
	ctx, cancel := context.WithTimeout(context.Background(), hostLookupTimeout)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNotAnIP, err)
	}
	if len(addrs) == 0 {
		return nil, errNotAnIP
	}
	return addrs[0].IP, nil
}

// isCharType reports whether a declared type name asks for a character
// literal. rune and int32 are the same Go type, so only the name tells a
// character from a number.
func isCharType(name string) bool {
	return name == "rune" || name == "char"
}

// character substitutes placeholders in text and returns its first rune.
func (b *binder) character(text string) (any, error) {
	s := Substitute(text, b.props)
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return nil, fmt.Errorf("%w: %w", ErrBinding, errNoChar)
	}
	return r, nil
}

// entry binds one collection entry. Entries are literals or injections.
// class is the declared element, key or value class of the collection.
func (b *binder) entry(v descriptor.Value, elem reflect.Type, class string) (reflect.Value, error) {
	var (
		out any
		err error
	)
	switch {
	case v.Kind() == descriptor.KindInject:
		out, err = b.inject(v.Inject)
	case isCharType(v.Type) || (v.Type == "" && isCharType(class)):
		out, err = b.character(v.Text)
	default:
		out, err = b.literal(v.Text, elem)
	}
	if err != nil {
		return reflect.Value{}, err
	}
	rv, err := coerceArgument(out, elem)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %w", ErrBinding, err)
	}
	return rv, nil
}

// collectionType picks the container type: the declared class, the target
// when it has the right kind, or fallback.
func (b *binder) collectionType(class string, target reflect.Type, kinds []reflect.Kind, fallback func() (reflect.Type, error)) (reflect.Type, error) {
	if class != "" {
		t, err := b.types.ResolveType(class)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBinding, err)
		}
		for _, k := range kinds {
			if t.Kind() == k {
				return t, nil
			}
		}
		return nil, fmt.Errorf("%w: %s is not a %v type", ErrBinding, t, kinds)
	}
	if target != nil {
		for _, k := range kinds {
			if target.Kind() == k {
				return target, nil
			}
		}
	}
	return fallback()
}

// classOr resolves class, or returns def when class is empty.
func (b *binder) classOr(class string, def reflect.Type) (reflect.Type, error) {
	if class == "" {
		if def == nil {
			return reflect.TypeFor[string](), nil
		}
		return def, nil
	}
	t, err := b.types.ResolveType(class)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBinding, err)
	}
	return t, nil
}

func (b *binder) bindMap(m *descriptor.Map, target reflect.Type) (any, error) {
	mt, err := b.collectionType(m.Class, target, []reflect.Kind{reflect.Map}, func() (reflect.Type, error) {
		kt, err := b.classOr(m.KeyClass, nil)
		if err != nil {
			return nil, err
		}
		vt, err := b.classOr(m.ValueClass, nil)
		if err != nil {
			return nil, err
		}
		if !kt.Comparable() {
			return nil, fmt.Errorf("%w: map key type %s is not comparable", ErrBinding, kt)
		}
		return reflect.MapOf(kt, vt), nil
	})
	if err != nil {
		return nil, err
	}

	kt, err := b.classOr(m.KeyClass, mt.Key())
	if err != nil {
		return nil, err
	}
	vt, err := b.classOr(m.ValueClass, mt.Elem())
	if err != nil {
		return nil, err
	}

	out := reflect.MakeMapWithSize(mt, len(m.Entries))
	for i, e := range m.Entries {
		k, err := b.entry(e.Key, kt, m.KeyClass)
		if err != nil {
			return nil, fmt.Errorf("map entry %d key: %w", i, err)
		}
		v, err := b.entry(e.Value, vt, m.ValueClass)
		if err != nil {
			return nil, fmt.Errorf("map entry %d value: %w", i, err)
		}
		k, err = coerceArgument(k.Interface(), mt.Key())
		if err != nil {
			return nil, fmt.Errorf("%w: map entry %d key: %w", ErrBinding, i, err)
		}
		v, err = coerceArgument(v.Interface(), mt.Elem())
		if err != nil {
			return nil, fmt.Errorf("%w: map entry %d value: %w", ErrBinding, i, err)
		}
		out.SetMapIndex(k, v)
	}
	return out.Interface(), nil
}

func (b *binder) bindList(l *descriptor.Collection, target reflect.Type) (any, error) {
	st, err := b.collectionType(l.Class, target, []reflect.Kind{reflect.Slice}, func() (reflect.Type, error) {
		et, err := b.classOr(l.ElementClass, nil)
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(et), nil
	})
	if err != nil {
		return nil, err
	}
	et, err := b.classOr(l.ElementClass, st.Elem())
	if err != nil {
		return nil, err
	}

	out := reflect.MakeSlice(st, 0, len(l.Values))
	for i, v := range l.Values {
		ev, err := b.entry(v, et, l.ElementClass)
		if err != nil {
			return nil, fmt.Errorf("list entry %d: %w", i, err)
		}
		ev, err = coerceArgument(ev.Interface(), st.Elem())
		if err != nil {
			return nil, fmt.Errorf("%w: list entry %d: %w", ErrBinding, i, err)
		}
		out = reflect.Append(out, ev)
	}
	return out.Interface(), nil
}

// bindSet builds a map[E]struct{} (or map[E]bool) set, or a slice holding
// each distinct element once in declaration order.
func (b *binder) bindSet(s *descriptor.Collection, target reflect.Type) (any, error) {
	ct, err := b.collectionType(s.Class, target, []reflect.Kind{reflect.Map, reflect.Slice}, func() (reflect.Type, error) {
		et, err := b.classOr(s.ElementClass, nil)
		if err != nil {
			return nil, err
		}
		if !et.Comparable() {
			return nil, fmt.Errorf("%w: set element type %s is not comparable", ErrBinding, et)
		}
		return reflect.MapOf(et, reflect.TypeFor[struct{}]()), nil
	})
	if err != nil {
		return nil, err
	}

	var elem reflect.Type
	if ct.Kind() == reflect.Map {
		elem = ct.Key()
	} else {
		elem = ct.Elem()
	}
	et, err := b.classOr(s.ElementClass, elem)
	if err != nil {
		return nil, err
	}

	values := make([]reflect.Value, 0, len(s.Values))
	for i, v := range s.Values {
		ev, err := b.entry(v, et, s.ElementClass)
		if err != nil {
			return nil, fmt.Errorf("set entry %d: %w", i, err)
		}
		ev, err = coerceArgument(ev.Interface(), elem)
		if err != nil {
			return nil, fmt.Errorf("%w: set entry %d: %w", ErrBinding, i, err)
		}
		values = append(values, ev)
	}

	if ct.Kind() == reflect.Map {
		member := reflect.Zero(ct.Elem())
		if ct.Elem().Kind() == reflect.Bool {
			member = reflect.ValueOf(true).Convert(ct.Elem())
		}
		out := reflect.MakeMapWithSize(ct, len(values))
		for _, v := range values {
			out.SetMapIndex(v, member)
		}
		return out.Interface(), nil
	}

	if !elem.Comparable() {
		return nil, fmt.Errorf("%w: set element type %s is not comparable", ErrBinding, elem)
	}
	seen := make(map[any]bool, len(values))
	out := reflect.MakeSlice(ct, 0, len(values))
	for _, v := range values {
		key := v.Interface()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = reflect.Append(out, v)
	}
	return out.Interface(), nil
}

// setProperty binds p on instance through its Set<Name> method.
func (b *binder) setProperty(instance any, td *TypeDescriptor, p descriptor.Property) error {
	name := "Set" + capitalize(p.Name)
	var setter *Callable
	if td != nil {
		candidates := td.Methods(name, 1)
		if p.Class != "" {
			want, err := b.types.ResolveType(p.Class)
			if err != nil {
				return fmt.Errorf("%w: property %q: %w", ErrBinding, p.Name, err)
			}
			for _, c := range candidates {
				if c.Params[0] == want {
					setter = c
					break
				}
			}
		} else if len(candidates) > 0 {
			setter = candidates[0]
		}
	}
	if setter == nil {
		return fmt.Errorf("%w: property %q not found on %T", ErrBinding, p.Name, instance)
	}

	value, err := b.bind(p.Value, setter.Params[0], instance)
	if err != nil {
		return fmt.Errorf("property %q: %w", p.Name, err)
	}
	if _, err := setter.Call(instance, []any{value}); err != nil {
		return fmt.Errorf("%w: setting property %q: %w", ErrBinding, p.Name, err)
	}
	return nil
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
