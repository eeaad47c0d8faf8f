package kernel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/kernel/descriptor"
)

// submission tracks one Deploy call.
type submission struct {
	id     string
	source string

	mu      sync.Mutex
	started []*unitBean
}

// record appends a bean to the completion order. It is called before the
// bean is marked Started, so a dependant is always recorded after its
// dependencies.
func (s *submission) record(b *unitBean) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, b)
}

// Deploy activates every bean of d and returns the resulting unit.
//
// All beans are registered before any of them is activated. Each bean then
// runs on its own task that waits until its dependencies are Started or
// failed, constructs the bean, binds its properties, runs its create and
// start hooks and install methods, and registers its callbacks. A failing
// bean does not stop its siblings; its dependants fail with
// ErrDependencyFailed.
//
// When any bean fails Deploy returns a *DeploymentError classified by the
// first failure in descriptor order. The beans that did start are torn down
// again unless Config.RetainPartial is set, in which case they are returned
// as DeploymentError.Partial.
//
// The context is checked before activation begins; once tasks run the
// submission is not cancellable.
func (k *Kernel) Deploy(ctx context.Context, d *descriptor.Deployment) (*Unit, error) {
	if d == nil {
		return nil, ErrNilDeployment
	}
	if k.isClosed() {
		return nil, ErrKernelShutdown
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("deploy of %s: %w", d, err)
	}

	sub := &submission{id: newID(), source: d.String()}
	if name, ok := duplicateName(d); ok {
		return nil, k.rejected(ctx, sub, &BeanError{
			Bean:  name,
			Phase: PhaseRegister,
			Err:   fmt.Errorf("%w: %s is declared twice", ErrRegistration, name),
		})
	}
	if err := d.Validate(); err != nil {
		return nil, k.rejected(ctx, sub, &BeanError{Phase: PhaseValidate, Err: err})
	}
	graph := buildGraph(d)
	if cycle := graph.findCycle(d.Names()); cycle != nil {
		return nil, k.rejected(ctx, sub, &BeanError{
			Bean:  cycle[0],
			Phase: PhaseDependency,
			Err:   fmt.Errorf("%w: %s", ErrCircularDependency, strings.Join(cycle, " -> ")),
		})
	}
	if name, err := k.registry.registerAll(d.Names()); err != nil {
		return nil, k.rejected(ctx, sub, &BeanError{Bean: name, Phase: PhaseRegister, Err: err})
	}
	k.metrics.liveBeans.Add(float64(len(d.Beans)))
	for name, deps := range graph {
		k.registry.addDependants(name, deps)
	}
	k.logger.Debug("Deployment registered", "unit", sub.id, "source", sub.source, "beans", len(d.Beans))

	taskCtx := context.WithoutCancel(ctx)
	failures := make([]*BeanError, len(d.Beans))
	var wg sync.WaitGroup
	for i := range d.Beans {
		b := &d.Beans[i]
		k.exec.submit(&wg, func() {
			failures[i] = k.activate(taskCtx, sub, b, graph[b.Name])
		}, func(p any) {
			k.logger.Error("Bean task panicked after activation", "bean", b.Name, "unit", sub.id, "panic", p)
		})
	}
	wg.Wait()

	var failed []*BeanError
	for _, f := range failures {
		if f != nil {
			failed = append(failed, f)
		}
	}
	if len(failed) == 0 {
		unit := newUnit(sub.id, sub.source, sub.started)
		if err := k.addUnit(unit); err != nil {
			return nil, k.abandon(taskCtx, sub, unit, err)
		}
		k.metrics.deployments.WithLabelValues("deploy", "success").Inc()
		k.logger.Info("Deployment activated", "unit", unit.id, "source", unit.source, "beans", unit.Names())
		k.events.emit(ctx, EventTypeUnitDeployed, UnitEvent{Unit: unit.id, Source: unit.source, Beans: unit.Names()}, nil)
		return unit, nil
	}

	for _, f := range failed {
		k.registry.remove(f.Bean)
	}
	k.metrics.liveBeans.Sub(float64(len(failed)))

	derr := &DeploymentError{Source: sub.source, Op: "deploy", Failures: failed}
	if len(sub.started) > 0 {
		partial := newUnit(sub.id, sub.source, sub.started)
		if k.cfg.RetainPartial && k.addUnit(partial) == nil {
			derr.Partial = partial
		} else if terr := k.teardown(taskCtx, sub.started); terr != nil {
			derr.Teardown = terr
		}
	}
	k.metrics.deployments.WithLabelValues("deploy", "failure").Inc()
	k.logger.Error("Deployment failed", "unit", sub.id, "source", sub.source, "failed", derr.Failed(), "error", derr)
	k.events.emit(ctx, EventTypeUnitFailed, UnitEvent{Unit: sub.id, Source: sub.source, Failed: derr.Failed(), Error: derr.Error()}, nil)
	return nil, derr
}

// abandon tears down a unit that finished activating after the kernel was
// shut down.
func (k *Kernel) abandon(ctx context.Context, sub *submission, u *Unit, cause error) error {
	u.mu.Lock()
	u.state = unitUndeployed
	u.mu.Unlock()
	k.logger.Warn("Deployment finished after shutdown, tearing it down", "unit", sub.id, "source", sub.source)
	err := fmt.Errorf("deploy of %s: %w", sub.source, cause)
	if berr := k.teardown(ctx, sub.started); berr != nil {
		err = errors.Join(err, berr)
	}
	k.metrics.deployments.WithLabelValues("deploy", "failure").Inc()
	return err
}

// duplicateName returns the first bean name declared more than once in d.
func duplicateName(d *descriptor.Deployment) (string, bool) {
	seen := make(map[string]struct{}, len(d.Beans))
	for _, b := range d.Beans {
		if _, dup := seen[b.Name]; dup && b.Name != "" {
			return b.Name, true
		}
		seen[b.Name] = struct{}{}
	}
	return "", false
}

// rejected reports a submission refused before any bean was registered.
func (k *Kernel) rejected(ctx context.Context, sub *submission, cause *BeanError) error {
	derr := &DeploymentError{Source: sub.source, Op: "deploy", Failures: []*BeanError{cause}}
	k.metrics.deployments.WithLabelValues("deploy", "failure").Inc()
	k.logger.Error("Deployment rejected", "source", sub.source, "error", derr)
	k.events.emit(ctx, EventTypeUnitFailed, UnitEvent{Unit: sub.id, Source: sub.source, Failed: derr.Failed(), Error: derr.Error()}, nil)
	return derr
}

// activate runs the activation protocol of one bean and returns its failure.
func (k *Kernel) activate(ctx context.Context, sub *submission, b *descriptor.Bean, deps []string) *BeanError {
	for _, dep := range deps {
		st, err := k.registry.awaitTerminal(dep)
		if err != nil {
			return k.fail(ctx, sub, b.Name, PhaseDependency, err)
		}
		if st != Started {
			return k.fail(ctx, sub, b.Name, PhaseDependency, fmt.Errorf("%w: %s is %s", ErrDependencyFailed, dep, st))
		}
	}

	release, err := k.exec.acquire(ctx)
	if err != nil {
		return k.fail(ctx, sub, b.Name, PhaseInstantiate, err)
	}
	defer release()

	begin := time.Now()
	phase := PhaseInstantiate
	k.registry.setStatus(b.Name, Starting)
	k.logger.Debug("Bean starting", "bean", b.Name, "unit", sub.id)

	ub, bindings, err := k.safeBuild(ctx, b, &phase)
	if err != nil {
		failure := k.fail(ctx, sub, b.Name, phase, err)
		k.metrics.observeActivation(begin, failure)
		return failure
	}

	sub.record(ub)
	k.publish(ub, bindings)
	k.metrics.observeActivation(begin, nil)
	k.logger.Debug("Bean started", "bean", b.Name, "unit", sub.id)
	k.events.emit(ctx, EventTypeBeanStarted, BeanEvent{Bean: b.Name, Unit: sub.id, Source: sub.source}, nil)
	return nil
}

// safeBuild runs build and reports a panic in user code as an error of the
// phase it happened in.
func (k *Kernel) safeBuild(ctx context.Context, b *descriptor.Bean, phase *Phase) (ub *unitBean, bindings []*CallbackBinding, err error) {
	defer func() {
		if p := recover(); p != nil {
			ub, bindings, err = nil, nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return k.build(ctx, b, phase)
}

// build constructs the bean, binds it and runs its activation hooks. phase
// tracks the current step for error reporting.
func (k *Kernel) build(ctx context.Context, b *descriptor.Bean, phase *Phase) (*unitBean, []*CallbackBinding, error) {
	*phase = PhaseInstantiate
	inst, td, err := k.resolver.instantiate(b)
	if err != nil {
		return nil, nil, err
	}

	*phase = PhaseBind
	for _, p := range b.Properties {
		if err := k.binder.setProperty(inst, td, p); err != nil {
			return nil, nil, err
		}
	}

	if !b.IgnoreCreate {
		*phase = PhaseCreate
		if err := runHook(ctx, inst, td, HookCreate); err != nil {
			return nil, nil, err
		}
	}
	if !b.IgnoreStart {
		*phase = PhaseStart
		if err := runHook(ctx, inst, td, HookStart); err != nil {
			return nil, nil, err
		}
	}

	*phase = PhaseInstall
	install, err := resolveMethods(td, b.Install)
	if err != nil {
		return nil, nil, err
	}
	if err := runMethods(ctx, inst, install); err != nil {
		return nil, nil, err
	}
	uninstall, err := resolveMethods(td, b.Uninstall)
	if err != nil {
		return nil, nil, err
	}

	*phase = PhaseCallback
	bindings, err := bindCallbacks(b.Name, inst, td, b.Callbacks)
	if err != nil {
		return nil, nil, err
	}

	ub := &unitBean{
		name:          b.Name,
		instance:      inst,
		td:            td,
		uninstall:     uninstall,
		ignoreStop:    b.IgnoreStop,
		ignoreDestroy: b.IgnoreDestroy,
	}
	return ub, bindings, nil
}

// publish registers the bean's callbacks, marks it Started and dispatches
// incallbacks. Registration and completion happen under one lock so each
// incallback is invoked once per matching bean: either when the binding is
// registered (for beans already started) or when the bean starts.
func (k *Kernel) publish(ub *unitBean, bindings []*CallbackBinding) {
	k.publishMu.Lock()
	for _, cb := range bindings {
		k.callbacks.Register(cb)
	}
	var replay []*entry
	if hasIncallback(bindings) {
		replay = k.registry.live(ub.name)
	}
	k.registry.complete(ub.name, ub.instance, ub.td, nil)
	pending := k.callbacks.LookupKind(descriptor.Incallback, reflect.TypeOf(ub.instance))
	k.publishMu.Unlock()

	for _, cb := range bindings {
		if cb.Kind != descriptor.Incallback {
			continue
		}
		for _, e := range replay {
			if cb.Accepts(reflect.TypeOf(e.instance)) {
				k.dispatch(cb, e.name, e.instance)
			}
		}
	}
	for _, cb := range pending {
		if cb.Owner != ub.name {
			k.dispatch(cb, ub.name, ub.instance)
		}
	}
}

// dispatch invokes an incallback. Failures are logged and do not affect
// either bean.
func (k *Kernel) dispatch(cb *CallbackBinding, bean string, instance any) {
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		err = cb.Invoke(instance)
	}()
	k.metrics.callbackCalls.WithLabelValues(string(cb.Kind), outcome(err)).Inc()
	if err != nil {
		k.logger.Warn("Incallback failed", "owner", cb.Owner, "method", cb.Method.Name, "bean", bean, "error", err)
	}
}

func hasIncallback(bindings []*CallbackBinding) bool {
	for _, cb := range bindings {
		if cb.Kind == descriptor.Incallback {
			return true
		}
	}
	return false
}

// fail moves a bean to Error and reports it.
func (k *Kernel) fail(ctx context.Context, sub *submission, name string, phase Phase, err error) *BeanError {
	berr := &BeanError{Bean: name, Phase: phase, Err: err}
	k.registry.complete(name, nil, nil, berr)
	k.logger.Error("Bean failed", "bean", name, "unit", sub.id, "phase", phase, "error", err)
	k.events.emit(ctx, EventTypeBeanFailed, BeanEvent{Bean: name, Unit: sub.id, Source: sub.source, Phase: phase, Error: err.Error()}, nil)
	return berr
}
