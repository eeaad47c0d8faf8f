package kernel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/GoCodeAlone/kernel/descriptor"
)

// activationBDDTestContext holds the state of one activation scenario.
type activationBDDTestContext struct {
	t         *testing.T
	kernel    *Kernel
	unit      *Unit
	lastError error
}

var scenarioErrors = map[string]error{
	"unknown dependency":  ErrUnknownDependency,
	"dependency failed":   ErrDependencyFailed,
	"circular dependency": ErrCircularDependency,
	"resolution":          ErrResolution,
	"binding":             ErrBinding,
}

func (c *activationBDDTestContext) reset() {
	if c.kernel != nil {
		_ = c.kernel.Shutdown(context.Background())
	}
	c.kernel = nil
	c.unit = nil
	c.lastError = nil
}

func (c *activationBDDTestContext) aKernelWithTheTestBeanTypes() error {
	k, err := New(newTestTypes(c.t))
	if err != nil {
		return err
	}
	c.kernel = k
	return nil
}

func (c *activationBDDTestContext) iDeployTheDescriptor(doc *godog.DocString) error {
	d, err := descriptor.Decode(strings.NewReader(doc.Content), descriptor.FormatYAML)
	if err != nil {
		return fmt.Errorf("descriptor rejected: %w", err)
	}
	d.Source = "scenario.yaml"
	c.unit, c.lastError = c.kernel.Deploy(context.Background(), d)
	return nil
}

func (c *activationBDDTestContext) iUndeployTheUnit() error {
	if c.unit == nil {
		return errors.New("no unit was deployed")
	}
	return c.kernel.Undeploy(context.Background(), c.unit)
}

func (c *activationBDDTestContext) theDeploymentShouldSucceed() error {
	if c.lastError != nil {
		return fmt.Errorf("expected success, got %w", c.lastError)
	}
	return nil
}

func (c *activationBDDTestContext) theDeploymentShouldFailWith(kind string) error {
	want, ok := scenarioErrors[kind]
	if !ok {
		return fmt.Errorf("unknown error kind %q", kind)
	}
	if !errors.Is(c.lastError, want) {
		return fmt.Errorf("expected %q, got %v", kind, c.lastError)
	}
	return nil
}

func (c *activationBDDTestContext) theFailedBeansShouldBe(list string) error {
	var derr *DeploymentError
	if !errors.As(c.lastError, &derr) {
		return fmt.Errorf("expected a deployment error, got %v", c.lastError)
	}
	if got := strings.Join(derr.Failed(), ", "); got != list {
		return fmt.Errorf("expected failed beans %q, got %q", list, got)
	}
	return nil
}

func (c *activationBDDTestContext) beanShouldBe(name, status string) error {
	if got := c.kernel.Status(name).String(); got != status {
		return fmt.Errorf("bean %q is %s, expected %s", name, got, status)
	}
	return nil
}

func (c *activationBDDTestContext) beanShouldHoldBean(holder, held string) error {
	h, ok := c.kernel.Bean(holder)
	if !ok {
		return fmt.Errorf("bean %q is not live", holder)
	}
	want, ok := c.kernel.Bean(held)
	if !ok {
		return fmt.Errorf("bean %q is not live", held)
	}

	var got any
	switch v := h.(type) {
	case *beta:
		got = v.a
	case *gamma:
		got = v.b
	default:
		return fmt.Errorf("bean %q of type %T holds no references", holder, h)
	}
	if got != want {
		return fmt.Errorf("bean %q does not hold bean %q", holder, held)
	}
	return nil
}

func (c *activationBDDTestContext) beanShouldHaveLimits(name string, table *godog.Table) error {
	b, ok := c.kernel.Bean(name)
	if !ok {
		return fmt.Errorf("bean %q is not live", name)
	}
	g, ok := b.(*gamma)
	if !ok {
		return fmt.Errorf("bean %q is a %T", name, b)
	}

	want := make(map[string]int, len(table.Rows))
	for _, row := range table.Rows {
		n, err := strconv.Atoi(row.Cells[1].Value)
		if err != nil {
			return err
		}
		want[row.Cells[0].Value] = n
	}
	if !maps.Equal(want, g.limits) {
		return fmt.Errorf("expected limits %v, got %v", want, g.limits)
	}
	return nil
}

func (c *activationBDDTestContext) noUnitShouldBeActive() error {
	if units := c.kernel.Units(); len(units) != 0 {
		return fmt.Errorf("expected no active unit, got %d", len(units))
	}
	return nil
}

func TestActivationFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			testContext := &activationBDDTestContext{t: t}

			ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				testContext.reset()
				return ctx, nil
			})
			ctx.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
				testContext.reset()
				return ctx, nil
			})

			ctx.Step(`^a kernel with the test bean types$`, testContext.aKernelWithTheTestBeanTypes)
			ctx.Step(`^I deploy the descriptor:$`, testContext.iDeployTheDescriptor)
			ctx.Step(`^I undeploy the unit$`, testContext.iUndeployTheUnit)
			ctx.Step(`^the deployment should succeed$`, testContext.theDeploymentShouldSucceed)
			ctx.Step(`^the deployment should fail with "([^"]*)"$`, testContext.theDeploymentShouldFailWith)
			ctx.Step(`^the failed beans should be "([^"]*)"$`, testContext.theFailedBeansShouldBe)
			ctx.Step(`^bean "([^"]*)" should be ([A-Z_]+)$`, testContext.beanShouldBe)
			ctx.Step(`^bean "([^"]*)" should hold bean "([^"]*)"$`, testContext.beanShouldHoldBean)
			ctx.Step(`^bean "([^"]*)" should have limits:$`, testContext.beanShouldHaveLimits)
			ctx.Step(`^no unit should be active$`, testContext.noUnitShouldBeActive)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/activation.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run activation feature tests")
	}
}
