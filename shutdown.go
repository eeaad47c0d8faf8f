package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/kernel/descriptor"
)

// Undeploy tears a unit down in reverse completion order. For each bean it
// runs the stop and destroy hooks unless ignored, then the uninstall
// methods, then dispatches uncallbacks, and finally removes the bean from
// every table.
//
// The first failure aborts the teardown. The failed bean stays registered in
// Error and the beans not yet torn down remain live; the unit is no longer
// active. Undeploying a unit that is not active fails with ErrUnitNotActive.
func (k *Kernel) Undeploy(ctx context.Context, u *Unit) error {
	if u == nil {
		return ErrUnitNotActive
	}
	u.mu.Lock()
	if u.state != unitActive {
		u.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnitNotActive, u.id)
	}
	u.state = unitUndeployed
	u.mu.Unlock()

	k.logger.Debug("Undeploying unit", "unit", u.id, "source", u.source)
	berr := k.teardown(ctx, u.beans)
	k.removeUnit(u)
	if berr != nil {
		u.mu.Lock()
		u.state = unitFailed
		u.mu.Unlock()
		derr := &DeploymentError{Source: u.source, Op: "undeploy", Failures: []*BeanError{berr}}
		k.metrics.deployments.WithLabelValues("undeploy", "failure").Inc()
		k.logger.Error("Undeploy failed", "unit", u.id, "source", u.source, "bean", berr.Bean, "error", berr.Err)
		k.events.emit(ctx, EventTypeUnitFailed, UnitEvent{Unit: u.id, Source: u.source, Failed: derr.Failed(), Error: derr.Error()}, nil)
		return derr
	}

	k.metrics.deployments.WithLabelValues("undeploy", "success").Inc()
	k.logger.Info("Unit undeployed", "unit", u.id, "source", u.source)
	k.events.emit(ctx, EventTypeUnitUndeployed, UnitEvent{Unit: u.id, Source: u.source, Beans: u.Names()}, nil)
	return nil
}

// teardown stops beans in reverse order and returns the first failure.
func (k *Kernel) teardown(ctx context.Context, beans []*unitBean) *BeanError {
	for i := len(beans) - 1; i >= 0; i-- {
		b := beans[i]
		if berr := k.stopBean(ctx, b); berr != nil {
			k.registry.complete(b.name, nil, nil, berr)
			k.metrics.teardowns.WithLabelValues("failure").Inc()
			k.logger.Error("Bean teardown failed", "bean", b.name, "phase", berr.Phase, "error", berr.Err)
			k.events.emit(ctx, EventTypeBeanFailed, BeanEvent{Bean: b.name, Phase: berr.Phase, Error: berr.Err.Error()}, nil)
			return berr
		}
		k.callbacks.Unregister(b.name)
		k.registry.remove(b.name)
		k.metrics.liveBeans.Dec()
		k.metrics.teardowns.WithLabelValues("success").Inc()
		k.logger.Debug("Bean stopped", "bean", b.name)
		k.events.emit(ctx, EventTypeBeanStopped, BeanEvent{Bean: b.name}, nil)
	}
	return nil
}

// stopBean runs the teardown protocol of one bean.
func (k *Kernel) stopBean(ctx context.Context, b *unitBean) (berr *BeanError) {
	phase := PhaseTeardown
	defer func() {
		if p := recover(); p != nil {
			berr = &BeanError{Bean: b.name, Phase: phase, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if deps := k.registry.liveDependants(b.name); len(deps) > 0 {
		return &BeanError{Bean: b.name, Phase: phase, Err: fmt.Errorf("%w: still required by %v", ErrUncallback, deps)}
	}
	k.registry.setStatus(b.name, Stopping)

	if !b.ignoreStop {
		phase = PhaseStop
		if err := runHook(ctx, b.instance, b.td, HookStop); err != nil {
			return &BeanError{Bean: b.name, Phase: phase, Err: err}
		}
	}
	if !b.ignoreDestroy {
		phase = PhaseDestroy
		if err := runHook(ctx, b.instance, b.td, HookDestroy); err != nil {
			return &BeanError{Bean: b.name, Phase: phase, Err: err}
		}
	}

	phase = PhaseUninstall
	if err := runMethods(ctx, b.instance, b.uninstall); err != nil {
		return &BeanError{Bean: b.name, Phase: phase, Err: err}
	}

	phase = PhaseTeardown
	err := k.callbacks.Dispatch(ctx, descriptor.Uncallback, b.instance, b.name)
	k.metrics.callbackCalls.WithLabelValues(string(descriptor.Uncallback), outcome(err)).Inc()
	if err != nil {
		return &BeanError{Bean: b.name, Phase: phase, Err: fmt.Errorf("%w: %w", ErrUncallback, err)}
	}
	return nil
}

// Shutdown stops accepting deployments and undeploys every active unit in
// reverse deployment order. Failures are joined; units after a failed one
// are still undeployed.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	units := make([]*Unit, len(k.units))
	copy(units, k.units)
	k.mu.Unlock()

	k.logger.Info("Kernel shutting down", "units", len(units))
	var errs []error
	for i := len(units) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("shutdown interrupted: %w", err))
			break
		}
		if err := k.Undeploy(ctx, units[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
