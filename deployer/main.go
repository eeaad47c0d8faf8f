// Package deployer maps deployment files to kernel units. MainDeployer keeps
// one deployment per path and hands each path to the most recently added
// deployer in its chain that accepts it; HotDeployer keeps a directory in sync with the
// MainDeployer.
//
// Both are registered as bean types by Register so that a bootstrap
// descriptor can declare them. Beans implementing Deployer are added to the
// MainDeployer chain through an incallback when they start, and removed
// through an uncallback when they are torn down.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/GoCodeAlone/kernel"
	"github.com/GoCodeAlone/kernel/descriptor"
)

// Static errors for deployment handling
var (
	ErrAlreadyDeployed = errors.New("already deployed")
	ErrNotDeployed     = errors.New("not deployed")
	ErrNoDeployer      = errors.New("no deployer accepts path")
	ErrInProgress      = errors.New("deployment in progress")
)

// Deployer deploys the files it accepts.
type Deployer interface {
	Accepts(path string) bool
	Deploy(ctx context.Context, path string) (Deployment, error)
}

// Deployment is something a Deployer produced and can take down again.
type Deployment interface {
	Undeploy(ctx context.Context) error
}

// DescriptorDeployer submits descriptor files to a kernel.
type DescriptorDeployer struct {
	kernel *kernel.Kernel
}

// NewDescriptorDeployer creates a deployer for YAML, TOML and JSON
// descriptors.
func NewDescriptorDeployer(k *kernel.Kernel) *DescriptorDeployer {
	return &DescriptorDeployer{kernel: k}
}

// Accepts reports whether path has a descriptor extension.
func (d *DescriptorDeployer) Accepts(path string) bool {
	return descriptor.Supported(path)
}

// Deploy loads the descriptor and deploys it as one unit.
func (d *DescriptorDeployer) Deploy(ctx context.Context, path string) (Deployment, error) {
	desc, err := descriptor.Load(path)
	if err != nil {
		return nil, err
	}
	unit, err := d.kernel.Deploy(ctx, desc)
	if err != nil {
		return nil, err
	}
	return &UnitDeployment{kernel: d.kernel, unit: unit}, nil
}

// UnitDeployment is a kernel unit produced by a DescriptorDeployer.
type UnitDeployment struct {
	kernel *kernel.Kernel
	unit   *kernel.Unit
}

// Unit returns the deployed unit.
func (u *UnitDeployment) Unit() *kernel.Unit {
	return u.unit
}

// Undeploy tears the unit down. A unit already taken down by the kernel,
// for instance during shutdown, is left alone.
func (u *UnitDeployment) Undeploy(ctx context.Context) error {
	if !u.unit.Active() {
		return nil
	}
	return u.kernel.Undeploy(ctx, u.unit)
}

// MainDeployer owns the path to deployment table.
type MainDeployer struct {
	logger kernel.Logger

	mu        sync.Mutex
	deployers []Deployer
	deployed  map[string]Deployment
	// pending marks paths whose deploy or undeploy is running. The lock is
	// not held while deployers run, since a deployment may start a Deployer
	// bean whose incallback calls AddDeployer.
	pending map[string]struct{}
}

// NewMainDeployer creates a main deployer whose chain starts with a
// DescriptorDeployer for k.
func NewMainDeployer(k *kernel.Kernel) *MainDeployer {
	return &MainDeployer{
		logger:    k.Logger(),
		deployers: []Deployer{NewDescriptorDeployer(k)},
		deployed:  make(map[string]Deployment),
		pending:   make(map[string]struct{}),
	}
}

// AddDeployer appends d to the chain. Adding a deployer twice is a no-op.
func (m *MainDeployer) AddDeployer(d Deployer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(m.deployers, d) {
		return
	}
	m.deployers = append(m.deployers, d)
	m.logger.Debug("Deployer added", "deployer", fmt.Sprintf("%T", d))
}

// RemoveDeployer removes d from the chain.
func (m *MainDeployer) RemoveDeployer(d Deployer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployers = slices.DeleteFunc(m.deployers, func(x Deployer) bool { return x == d })
	m.logger.Debug("Deployer removed", "deployer", fmt.Sprintf("%T", d))
}

// Deployers returns the current chain.
func (m *MainDeployer) Deployers() []Deployer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.deployers)
}

// accepts reports whether any deployer in the chain accepts path.
func (m *MainDeployer) accepts(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.ContainsFunc(m.deployers, func(d Deployer) bool { return d.Accepts(path) })
}

// Deploy deploys path with the most recently added deployer that accepts
// it, so specialised deployers take precedence over the descriptor
// deployer.
func (m *MainDeployer) Deploy(ctx context.Context, path string) error {
	m.mu.Lock()
	if _, ok := m.deployed[path]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyDeployed, path)
	}
	if _, ok := m.pending[path]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInProgress, path)
	}
	var chosen Deployer
	for i := len(m.deployers) - 1; i >= 0; i-- {
		if m.deployers[i].Accepts(path) {
			chosen = m.deployers[i]
			break
		}
	}
	if chosen == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoDeployer, path)
	}
	m.pending[path] = struct{}{}
	m.mu.Unlock()

	dep, err := chosen.Deploy(ctx, path)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, path)
	if err != nil {
		return fmt.Errorf("deploy %s: %w", path, err)
	}
	m.deployed[path] = dep
	m.logger.Info("Deployed", "path", path)
	return nil
}

// Undeploy takes down the deployment of path.
func (m *MainDeployer) Undeploy(ctx context.Context, path string) error {
	m.mu.Lock()
	dep, ok := m.deployed[path]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotDeployed, path)
	}
	delete(m.deployed, path)
	m.pending[path] = struct{}{}
	m.mu.Unlock()

	err := dep.Undeploy(ctx)

	m.mu.Lock()
	delete(m.pending, path)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("undeploy %s: %w", path, err)
	}
	m.logger.Info("Undeployed", "path", path)
	return nil
}

// Redeploy undeploys path when it is deployed and deploys it again.
func (m *MainDeployer) Redeploy(ctx context.Context, path string) error {
	if err := m.Undeploy(ctx, path); err != nil && !errors.Is(err, ErrNotDeployed) {
		return err
	}
	return m.Deploy(ctx, path)
}

// Deployed returns the deployed paths, sorted.
func (m *MainDeployer) Deployed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.deployed))
	for p := range m.deployed {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Deployment returns the deployment of path.
func (m *MainDeployer) Deployment(path string) (Deployment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployed[path]
	return d, ok
}

// Stop undeploys every path in reverse path order.
func (m *MainDeployer) Stop(ctx context.Context) error {
	paths := m.Deployed()
	var errs []error
	for i := len(paths) - 1; i >= 0; i-- {
		if err := m.Undeploy(ctx, paths[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
