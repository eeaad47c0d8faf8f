package kernel

import (
	"errors"
	"fmt"
	"strings"
)

// Kernel errors
var (
	// Registration errors
	ErrRegistration     = errors.New("bean already registered")
	ErrNilDeployment    = errors.New("deployment is nil")
	ErrKernelShutdown   = errors.New("kernel is shut down")
	ErrNilInstance      = errors.New("instance is nil")
	ErrTypeRegistered   = errors.New("type already registered")
	ErrInvalidCallable  = errors.New("invalid callable")
	ErrInvalidArguments = errors.New("invalid arguments")

	// Dependency errors
	ErrUnknownDependency  = errors.New("unknown dependency")
	ErrDependencyFailed   = fmt.Errorf("%w: dependency failed to start", ErrUnknownDependency)
	ErrCircularDependency = errors.New("circular dependency detected")

	// Construction errors
	ErrResolution = errors.New("no matching constructor, factory or type")
	ErrBinding    = errors.New("value binding failed")

	// Lifecycle errors
	ErrLifecycleHook = errors.New("lifecycle hook failed")
	ErrUncallback    = errors.New("teardown sequencing failed")
	ErrUnitNotActive = errors.New("deployment unit is not active")
)

// Phase names the activation or teardown step a bean failed in.
type Phase string

const (
	PhaseValidate    Phase = "validate"
	PhaseRegister    Phase = "register"
	PhaseDependency  Phase = "dependency"
	PhaseInstantiate Phase = "instantiate"
	PhaseBind        Phase = "bind"
	PhaseCreate      Phase = "create"
	PhaseStart       Phase = "start"
	PhaseInstall     Phase = "install"
	PhaseCallback    Phase = "callback"
	PhaseStop        Phase = "stop"
	PhaseDestroy     Phase = "destroy"
	PhaseUninstall   Phase = "uninstall"
	PhaseTeardown    Phase = "teardown"
)

// BeanError records why a single bean failed.
type BeanError struct {
	Bean  string
	Phase Phase
	Err   error
}

func (e *BeanError) Error() string {
	if e.Bean == "" {
		return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("bean %q failed during %s: %v", e.Bean, e.Phase, e.Err)
}

func (e *BeanError) Unwrap() error {
	return e.Err
}

// DeploymentError aggregates the failures of one submission or teardown.
// It unwraps to the first failure in descriptor order, so errors.Is and
// errors.As classify the deployment by that failure.
type DeploymentError struct {
	Source   string
	Op       string
	Failures []*BeanError

	// Teardown holds errors raised while automatically tearing down the
	// beans of a failed submission that did start.
	Teardown error

	// Partial holds the started beans of a failed submission when the
	// kernel retains them. The caller decides whether to undeploy it.
	Partial *Unit
}

func (e *DeploymentError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s of %s failed", e.Op, e.Source)
	if len(e.Failures) > 0 {
		sb.WriteString(": ")
		sb.WriteString(e.Failures[0].Error())
		if n := len(e.Failures) - 1; n > 0 {
			fmt.Fprintf(&sb, " (and %d more)", n)
		}
	}
	if e.Teardown != nil {
		fmt.Fprintf(&sb, "; teardown: %v", e.Teardown)
	}
	return sb.String()
}

func (e *DeploymentError) Unwrap() error {
	if len(e.Failures) == 0 {
		return e.Teardown
	}
	return e.Failures[0]
}

// Failed returns the names of the failed beans.
func (e *DeploymentError) Failed() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Bean)
	}
	return names
}
