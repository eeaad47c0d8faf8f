// Package kernel is an embedded activation kernel. It takes a declarative
// graph of bean descriptors, resolves the dependencies between beans,
// constructs each bean through its registered constructors or factories,
// binds configuration values with type coercion, runs lifecycle hooks in
// dependency order and later tears the graph down in reverse order.
//
// Bean types are never discovered: every constructor, factory and method the
// kernel may call is registered up front in a TypeRegistry.
//
// Basic usage:
//
//	types := kernel.NewTypeRegistry()
//	_ = types.Register(kernel.Describe[*Pool]("example.Pool").
//		Constructor(NewPool).
//		Method("SetMaxSize", (*Pool).SetMaxSize))
//
//	k, err := kernel.New(types, kernel.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	d, err := descriptor.Load("pool.yaml")
//	if err != nil {
//		return err
//	}
//	unit, err := k.Deploy(ctx, d)
//	if err != nil {
//		return err
//	}
//	defer k.Undeploy(ctx, unit)
package kernel

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SelfBeanName is the name under which the kernel registers itself as a
// live bean, so descriptors can inject it.
const SelfBeanName = "Kernel"

// selfTypeName is the registered type name of *Kernel.
const selfTypeName = "kernel.Kernel"

// Option configures a Kernel.
type Option func(*Kernel) error

// WithLogger sets the kernel logger.
func WithLogger(logger Logger) Option {
	return func(k *Kernel) error {
		if logger == nil {
			return fmt.Errorf("%w: logger", ErrConfigNil)
		}
		k.logger = logger
		return nil
	}
}

// WithConfig sets the kernel configuration. Defaults are applied to it.
func WithConfig(cfg *Config) Option {
	return func(k *Kernel) error {
		if cfg == nil {
			return ErrConfigNil
		}
		k.cfg = cfg
		return nil
	}
}

// WithPropertyResolver sets where ${name} placeholders are looked up after
// the configured properties. The default is the process environment.
func WithPropertyResolver(r PropertyResolver) Option {
	return func(k *Kernel) error {
		k.props = r
		return nil
	}
}

// WithObserver registers an observer for the given event types, or for all
// events when none are given.
func WithObserver(o Observer, eventTypes ...string) Option {
	return func(k *Kernel) error {
		k.pendingObservers = append(k.pendingObservers, pendingObserver{o, eventTypes})
		return nil
	}
}

type pendingObserver struct {
	observer   Observer
	eventTypes []string
}

// Kernel owns the live bean tables of every deployment made through it.
type Kernel struct {
	cfg       *Config
	types     *TypeRegistry
	props     PropertyResolver
	logger    Logger
	registry  *registry
	callbacks *CallbackRegistry
	exec      *executor
	metrics   *metrics
	events    *subject
	binder    *binder
	resolver  *resolver

	pendingObservers []pendingObserver

	// publishMu orders callback registration against bean completion so that
	// every incallback sees every matching bean exactly once.
	publishMu sync.Mutex

	mu     sync.Mutex
	units  []*Unit
	closed bool
}

// New creates a kernel resolving bean types through types. The kernel
// registers itself as the live bean "Kernel".
func New(types *TypeRegistry, opts ...Option) (*Kernel, error) {
	if types == nil {
		return nil, fmt.Errorf("%w: type registry", ErrConfigNil)
	}
	k := &Kernel{
		types:     types,
		logger:    nopLogger{},
		registry:  newRegistry(),
		callbacks: NewCallbackRegistry(),
		metrics:   newMetrics(),
	}
	for _, opt := range opts {
		if err := opt(k); err != nil {
			return nil, err
		}
	}
	if k.cfg == nil {
		k.cfg = &Config{}
	}
	if err := ValidateConfig(k.cfg); err != nil {
		return nil, err
	}

	fallback := k.props
	if fallback == nil {
		fallback = EnvResolver
	}
	k.props = ChainResolver{MapResolver(k.cfg.Properties), fallback}
	k.exec = newExecutor(k.cfg.Workers)
	k.events = newSubject(k.logger)
	for _, p := range k.pendingObservers {
		k.events.register(p.observer, p.eventTypes...)
	}
	k.pendingObservers = nil
	k.binder = &binder{types: types, props: k.props, beans: k.registry}
	k.resolver = &resolver{types: types, binder: k.binder}

	td, ok := types.Lookup(selfTypeName)
	if !ok {
		td = Describe[*Kernel](selfTypeName).
			Method("GetCallbacks", (*Kernel).Callbacks).
			Method("GetTypes", (*Kernel).Types).
			Method("GetConfig", (*Kernel).Config).
			Method("GetLogger", (*Kernel).Logger).
			Method("GetGatherer", (*Kernel).Gatherer)
		if err := types.Register(td); err != nil {
			return nil, err
		}
	}
	if err := k.registry.addLive(SelfBeanName, k, td); err != nil {
		return nil, err
	}
	k.metrics.liveBeans.Inc()
	return k, nil
}

// RegisterInstance makes an externally constructed instance available to
// descriptors under name. Its type descriptor, when registered, is used for
// property accessors and callbacks.
func (k *Kernel) RegisterInstance(name string, instance any) error {
	if isNil(instance) {
		return fmt.Errorf("%w: %s", ErrNilInstance, name)
	}
	if k.isClosed() {
		return ErrKernelShutdown
	}
	td, _ := k.types.LookupType(reflect.TypeOf(instance))
	k.publishMu.Lock()
	defer k.publishMu.Unlock()
	if err := k.registry.addLive(name, instance, td); err != nil {
		return err
	}
	k.metrics.liveBeans.Inc()
	k.logger.Debug("Instance registered", "bean", name)
	return nil
}

// UnregisterInstance removes an instance added with RegisterInstance. It
// fails with ErrUncallback while deployed beans still depend on it.
func (k *Kernel) UnregisterInstance(name string) error {
	if name == SelfBeanName {
		return fmt.Errorf("%w: %s cannot be unregistered", ErrUncallback, name)
	}
	if deps := k.registry.liveDependants(name); len(deps) > 0 {
		return fmt.Errorf("%w: %s is still required by %v", ErrUncallback, name, deps)
	}
	if k.registry.status(name) == NotRegistered {
		return fmt.Errorf("%w: %s", ErrUnknownDependency, name)
	}
	k.callbacks.Unregister(name)
	k.registry.remove(name)
	k.metrics.liveBeans.Dec()
	return nil
}

// Bean returns a live bean instance.
func (k *Kernel) Bean(name string) (any, bool) {
	return k.registry.instance(name)
}

// Status returns the status of a bean, NotRegistered if it is unknown.
func (k *Kernel) Status(name string) Status {
	return k.registry.status(name)
}

// BeanInfo returns a snapshot of a registered bean.
func (k *Kernel) BeanInfo(name string) (BeanInfo, bool) {
	return k.registry.info(name)
}

// BeanNames returns the registered bean names, sorted.
func (k *Kernel) BeanNames() []string {
	return k.registry.names()
}

// Units returns the active units in deployment order.
func (k *Kernel) Units() []*Unit {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Clone(k.units)
}

// Unit returns the active unit with the given id.
func (k *Kernel) Unit(id string) (*Unit, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, u := range k.units {
		if u.id == id {
			return u, true
		}
	}
	return nil, false
}

// Callbacks returns the callback registry.
func (k *Kernel) Callbacks() *CallbackRegistry {
	return k.callbacks
}

// Types returns the type registry.
func (k *Kernel) Types() *TypeRegistry {
	return k.types
}

// Config returns the kernel configuration.
func (k *Kernel) Config() *Config {
	return k.cfg
}

// Logger returns the kernel logger.
func (k *Kernel) Logger() Logger {
	return k.logger
}

// Gatherer exposes the kernel metrics for scraping.
func (k *Kernel) Gatherer() prometheus.Gatherer {
	return k.metrics.registry
}

// RegisterObserver adds an observer for the given event types, or for all
// events when none are given.
func (k *Kernel) RegisterObserver(o Observer, eventTypes ...string) error {
	if o == nil {
		return errors.New("observer cannot be nil")
	}
	k.events.register(o, eventTypes...)
	return nil
}

// UnregisterObserver removes an observer. Unknown observers are ignored.
func (k *Kernel) UnregisterObserver(o Observer) {
	k.events.unregister(o)
}

// Observers describes the registered observers.
func (k *Kernel) Observers() []ObserverInfo {
	return k.events.info()
}

func (k *Kernel) isClosed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}

// addUnit records an active unit. It fails once Shutdown has begun, since
// Shutdown only undeploys the units it saw.
func (k *Kernel) addUnit(u *Unit) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ErrKernelShutdown
	}
	k.units = append(k.units, u)
	n := len(k.units)
	k.mu.Unlock()
	k.metrics.activeUnits.Set(float64(n))
	return nil
}

func (k *Kernel) removeUnit(u *Unit) {
	k.mu.Lock()
	k.units = slices.DeleteFunc(k.units, func(x *Unit) bool { return x == u })
	n := len(k.units)
	k.mu.Unlock()
	k.metrics.activeUnits.Set(float64(n))
}
