package kernel

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"
	"time"
)

var (
	errorType   = reflect.TypeFor[error]()
	contextType = reflect.TypeFor[context.Context]()
	typeType    = reflect.TypeFor[reflect.Type]()
	ipType      = reflect.TypeFor[net.IP]()
)

// Callable is a registered constructor, factory method or instance method.
// Params excludes the receiver of instance methods.
type Callable struct {
	Name   string
	Params []reflect.Type
	Result reflect.Type

	fn       reflect.Value
	receiver reflect.Type
	hasErr   bool
}

// newCallable wraps fn. When method is true the first parameter of fn is the
// receiver, which is how Go method expressions such as (*Pool).SetSize look.
func newCallable(name string, fn any, method bool) (*Callable, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: %s is not a function", ErrInvalidCallable, name)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("%w: %s is variadic", ErrInvalidCallable, name)
	}

	c := &Callable{Name: name, fn: v}
	start := 0
	if method {
		if t.NumIn() == 0 {
			return nil, fmt.Errorf("%w: method %s has no receiver parameter", ErrInvalidCallable, name)
		}
		c.receiver = t.In(0)
		start = 1
	}
	for i := start; i < t.NumIn(); i++ {
		c.Params = append(c.Params, t.In(i))
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			c.hasErr = true
		} else {
			c.Result = t.Out(0)
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("%w: %s second result must be an error", ErrInvalidCallable, name)
		}
		c.Result = t.Out(0)
		c.hasErr = true
	default:
		return nil, fmt.Errorf("%w: %s returns more than two values", ErrInvalidCallable, name)
	}
	return c, nil
}

// Arity is the number of declared parameters, excluding the receiver.
func (c *Callable) Arity() int {
	return len(c.Params)
}

// Call invokes the callable. recv is ignored for constructors and static
// factories. A nil argument is passed as the zero value of its parameter.
func (c *Callable) Call(recv any, args []any) (any, error) {
	if len(args) != len(c.Params) {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrInvalidArguments, c.Name, len(c.Params), len(args))
	}

	in := make([]reflect.Value, 0, len(args)+1)
	if c.receiver != nil {
		rv, err := coerceArgument(recv, c.receiver)
		if err != nil {
			return nil, fmt.Errorf("%w: receiver of %s: %w", ErrInvalidArguments, c.Name, err)
		}
		in = append(in, rv)
	}
	for i, a := range args {
		av, err := coerceArgument(a, c.Params[i])
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d of %s: %w", ErrInvalidArguments, i, c.Name, err)
		}
		in = append(in, av)
	}

	out := c.fn.Call(in)
	var result any
	if c.Result != nil {
		result = out[0].Interface()
	}
	if c.hasErr {
		if errV := out[len(out)-1]; !errV.IsNil() {
			return result, errV.Interface().(error)
		}
	}
	return result, nil
}

// takesContext reports whether the callable accepts exactly one
// context.Context parameter; lifecycle hooks may be declared that way.
func (c *Callable) takesContext() bool {
	return len(c.Params) == 1 && c.Params[0] == contextType
}

func coerceArgument(a any, to reflect.Type) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(to), nil
	}
	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(to) {
		if to.Kind() == reflect.Interface {
			out := reflect.New(to).Elem()
			out.Set(v)
			return out, nil
		}
		return v, nil
	}
	if isScalar(v.Type()) && isScalar(to) && v.Type().ConvertibleTo(to) {
		return v.Convert(to), nil
	}
	return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", v.Type(), to)
}

func isScalar(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// TypeDescriptor is the explicit registration of a bean type: its
// constructors, static factory methods and instance methods, each kept in
// registration order. The kernel never discovers members by itself; only what
// is declared here can be constructed, bound or invoked.
type TypeDescriptor struct {
	Name string
	Type reflect.Type

	constructors []*Callable
	factories    []*Callable
	methods      []*Callable
	err          error
}

// Describe starts a type descriptor for T registered under name.
//
// Example:
//
//	td := kernel.Describe[*Pool]("example.Pool").
//		Constructor(NewPool).
//		Constructor(NewPoolWithSize).
//		Method("SetMaxSize", (*Pool).SetMaxSize).
//		Method("Start", (*Pool).Start)
func Describe[T any](name string) *TypeDescriptor {
	return &TypeDescriptor{Name: name, Type: reflect.TypeFor[T]()}
}

// Constructor adds a constructor function returning the bean instance.
func (td *TypeDescriptor) Constructor(fn any) *TypeDescriptor {
	c, err := newCallable(td.Name, fn, false)
	if err == nil && c.Result == nil {
		err = fmt.Errorf("%w: constructor of %s returns no instance", ErrInvalidCallable, td.Name)
	}
	if err != nil {
		td.err = err
		return td
	}
	td.constructors = append(td.constructors, c)
	return td
}

// Factory adds a named static factory method.
func (td *TypeDescriptor) Factory(name string, fn any) *TypeDescriptor {
	c, err := newCallable(name, fn, false)
	if err == nil && c.Result == nil {
		err = fmt.Errorf("%w: factory %s.%s returns no instance", ErrInvalidCallable, td.Name, name)
	}
	if err != nil {
		td.err = err
		return td
	}
	td.factories = append(td.factories, c)
	return td
}

// Method adds a named instance method. fn takes the receiver as its first
// parameter, which a Go method expression provides.
func (td *TypeDescriptor) Method(name string, fn any) *TypeDescriptor {
	c, err := newCallable(name, fn, true)
	if err != nil {
		td.err = err
		return td
	}
	td.methods = append(td.methods, c)
	return td
}

// Constructors returns registered constructors with the given arity.
func (td *TypeDescriptor) Constructors(arity int) []*Callable {
	return byArity(td.constructors, "", arity)
}

// Factories returns registered factory methods with the given name and arity.
func (td *TypeDescriptor) Factories(name string, arity int) []*Callable {
	return byArity(td.factories, name, arity)
}

// Methods returns registered instance methods with the given name and arity.
func (td *TypeDescriptor) Methods(name string, arity int) []*Callable {
	return byArity(td.methods, name, arity)
}

// LookupMethod returns the first instance method with the given name and arity.
func (td *TypeDescriptor) LookupMethod(name string, arity int) (*Callable, bool) {
	if td == nil {
		return nil, false
	}
	ms := td.Methods(name, arity)
	if len(ms) == 0 {
		return nil, false
	}
	return ms[0], true
}

func byArity(cs []*Callable, name string, arity int) []*Callable {
	var out []*Callable
	for _, c := range cs {
		if (name == "" || c.Name == name) && c.Arity() == arity {
			out = append(out, c)
		}
	}
	return out
}

// builtinTypes are the type names usable in descriptors without registration.
var builtinTypes = map[string]reflect.Type{
	"string":        reflect.TypeFor[string](),
	"bool":          reflect.TypeFor[bool](),
	"int":           reflect.TypeFor[int](),
	"int8":          reflect.TypeFor[int8](),
	"int16":         reflect.TypeFor[int16](),
	"int32":         reflect.TypeFor[int32](),
	"int64":         reflect.TypeFor[int64](),
	"uint":          reflect.TypeFor[uint](),
	"uint8":         reflect.TypeFor[uint8](),
	"uint16":        reflect.TypeFor[uint16](),
	"uint32":        reflect.TypeFor[uint32](),
	"uint64":        reflect.TypeFor[uint64](),
	"byte":          reflect.TypeFor[byte](),
	"rune":          reflect.TypeFor[rune](),
	"char":          reflect.TypeFor[rune](),
	"float32":       reflect.TypeFor[float32](),
	"float64":       reflect.TypeFor[float64](),
	"time.Duration": reflect.TypeFor[time.Duration](),
	"net.IP":        ipType,
	"reflect.Type":  typeType,
	"any":           reflect.TypeFor[any](),
}

// TypeRegistry resolves type names to descriptors. It replaces ambient type
// loading: a deployment can only construct types registered here.
// It is safe for concurrent use.
type TypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]*TypeDescriptor
	byType map[reflect.Type]*TypeDescriptor
}

// NewTypeRegistry creates an empty type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		byName: make(map[string]*TypeDescriptor),
		byType: make(map[reflect.Type]*TypeDescriptor),
	}
}

// Register adds descriptors. Registration fails if a descriptor was built
// with an invalid member or the name is taken.
func (r *TypeRegistry) Register(tds ...*TypeDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, td := range tds {
		if td.err != nil {
			return fmt.Errorf("failed to register type %s: %w", td.Name, td.err)
		}
		if _, exists := r.byName[td.Name]; exists {
			return fmt.Errorf("%w: %s", ErrTypeRegistered, td.Name)
		}
		if _, exists := builtinTypes[td.Name]; exists {
			return fmt.Errorf("%w: %s is a builtin type", ErrTypeRegistered, td.Name)
		}
		r.byName[td.Name] = td
		if _, exists := r.byType[td.Type]; !exists {
			r.byType[td.Type] = td
		}
	}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *TypeRegistry) Lookup(name string) (*TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	td, ok := r.byName[name]
	return td, ok
}

// LookupType returns the first descriptor registered for t.
func (r *TypeRegistry) LookupType(t reflect.Type) (*TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	td, ok := r.byType[t]
	return td, ok
}

// ResolveType maps a descriptor type name to a Go type: builtin names first,
// then registered descriptors. Slice and map forms of resolvable names, such
// as "[]int" or "map[string]example.Pool", are composed on the fly.
func (r *TypeRegistry) ResolveType(name string) (reflect.Type, error) {
	name = strings.TrimSpace(name)
	if t, ok := builtinTypes[name]; ok {
		return t, nil
	}
	if td, ok := r.Lookup(name); ok {
		return td.Type, nil
	}

	switch {
	case strings.HasPrefix(name, "[]"):
		elem, err := r.ResolveType(name[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case strings.HasPrefix(name, "map["):
		key, value, ok := splitMapType(name)
		if !ok {
			break
		}
		kt, err := r.ResolveType(key)
		if err != nil {
			return nil, err
		}
		if !kt.Comparable() {
			return nil, fmt.Errorf("%w: map key type %s is not comparable", ErrResolution, kt)
		}
		vt, err := r.ResolveType(value)
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(kt, vt), nil
	}
	return nil, fmt.Errorf("%w: type %q is not registered", ErrResolution, name)
}

// splitMapType splits "map[K]V" into K and V, honouring nested brackets in K.
func splitMapType(name string) (key, value string, ok bool) {
	depth := 0
	for i := len("map"); i < len(name); i++ {
		switch name[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				key, value = name[len("map["):i], name[i+1:]
				return key, value, key != "" && value != ""
			}
		}
	}
	return "", "", false
}

// Names returns the registered type names.
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return names
}
