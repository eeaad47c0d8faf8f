package deployer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/kernel"
	"github.com/GoCodeAlone/kernel/descriptor"
)

type greeter struct {
	message string
}

func newGreeter() *greeter { return &greeter{} }

func (g *greeter) SetMessage(m string) { g.message = m }

// stubDeployer accepts ".stub" files and records what it deployed.
type stubDeployer struct {
	deployed []string
}

func newStubDeployer() *stubDeployer { return &stubDeployer{} }

func (s *stubDeployer) Accepts(path string) bool { return filepath.Ext(path) == ".stub" }

func (s *stubDeployer) Deploy(_ context.Context, path string) (Deployment, error) {
	s.deployed = append(s.deployed, path)
	return stubDeployment{}, nil
}

type stubDeployment struct{}

func (stubDeployment) Undeploy(context.Context) error { return nil }

func newTestKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	types := kernel.NewTypeRegistry()
	require.NoError(t, Register(types))
	require.NoError(t, types.Register(
		kernel.Describe[*greeter]("test.Greeter").
			Constructor(newGreeter).
			Method("SetMessage", (*greeter).SetMessage),
		kernel.Describe[*stubDeployer]("test.StubDeployer").
			Constructor(newStubDeployer),
	))
	k, err := kernel.New(types)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Shutdown(context.Background()) })
	return k
}

func writeDescriptor(t *testing.T, dir, name, message string) string {
	t.Helper()
	content := "beans:\n  - name: " + name + "\n    class: test.Greeter\n    properties:\n      - name: message\n        value: " + message + "\n"
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestMainDeployer_DeployUndeploy(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	md := NewMainDeployer(k)
	path := writeDescriptor(t, t.TempDir(), "hello", "hi")

	require.NoError(t, md.Deploy(ctx, path))
	assert.Equal(t, []string{path}, md.Deployed())

	bean, ok := k.Bean("hello")
	require.True(t, ok)
	assert.Equal(t, "hi", bean.(*greeter).message)

	err := md.Deploy(ctx, path)
	assert.ErrorIs(t, err, ErrAlreadyDeployed)

	require.NoError(t, md.Undeploy(ctx, path))
	assert.Empty(t, md.Deployed())
	assert.Equal(t, kernel.NotRegistered, k.Status("hello"))

	assert.ErrorIs(t, md.Undeploy(ctx, path), ErrNotDeployed)
}

func TestMainDeployer_Errors(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	md := NewMainDeployer(k)

	assert.ErrorIs(t, md.Deploy(ctx, "archive.zip"), ErrNoDeployer)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("beans:\n  - name: x\n    class: test.Missing\n"), 0o600))
	err := md.Deploy(ctx, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernel.ErrResolution)
	assert.Empty(t, md.Deployed(), "a failed deployment is not recorded")
}

func TestMainDeployer_Redeploy(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	md := NewMainDeployer(k)
	dir := t.TempDir()
	path := writeDescriptor(t, dir, "hello", "first")

	require.NoError(t, md.Deploy(ctx, path))
	writeDescriptor(t, dir, "hello", "second")
	require.NoError(t, md.Redeploy(ctx, path))

	bean, ok := k.Bean("hello")
	require.True(t, ok)
	assert.Equal(t, "second", bean.(*greeter).message)
}

func TestMainDeployer_DeployerBeansJoinTheChain(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)

	bootstrap := &descriptor.Deployment{Beans: []descriptor.Bean{{
		Name:  "MainDeployer",
		Class: MainDeployerType,
		Constructor: &descriptor.Constructor{
			Parameters: []descriptor.Value{descriptor.InjectBean(kernel.SelfBeanName)},
		},
		Callbacks: []descriptor.Callback{
			{Kind: descriptor.Incallback, Method: "AddDeployer"},
			{Kind: descriptor.Uncallback, Method: "RemoveDeployer"},
		},
	}}}
	_, err := k.Deploy(ctx, bootstrap)
	require.NoError(t, err)
	bean, ok := k.Bean("MainDeployer")
	require.True(t, ok)
	md := bean.(*MainDeployer)
	require.Len(t, md.Deployers(), 1)

	plugin, err := k.Deploy(ctx, &descriptor.Deployment{Beans: []descriptor.Bean{
		{Name: "stub", Class: "test.StubDeployer"},
	}})
	require.NoError(t, err)
	require.Len(t, md.Deployers(), 2)

	require.NoError(t, md.Deploy(ctx, "thing.stub"))
	stub, _ := k.Bean("stub")
	assert.Equal(t, []string{"thing.stub"}, stub.(*stubDeployer).deployed)
	require.NoError(t, md.Undeploy(ctx, "thing.stub"))

	require.NoError(t, k.Undeploy(ctx, plugin))
	assert.Len(t, md.Deployers(), 1)
	assert.ErrorIs(t, md.Deploy(ctx, "other.stub"), ErrNoDeployer)
}

func TestHotDeployer_Scan(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	md := NewMainDeployer(k)
	dir := t.TempDir()

	hd := NewHotDeployer(md)
	hd.SetDirectory(dir)

	path := writeDescriptor(t, dir, "alpha", "one")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))
	require.NoError(t, hd.Scan(ctx))
	assert.Equal(t, []string{path}, md.Deployed())

	// Unchanged files are left alone.
	before, _ := k.Bean("alpha")
	require.NoError(t, hd.Scan(ctx))
	after, _ := k.Bean("alpha")
	assert.Same(t, before, after)

	writeDescriptor(t, dir, "alpha", "two")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	require.NoError(t, hd.Scan(ctx))
	bean, ok := k.Bean("alpha")
	require.True(t, ok)
	assert.Equal(t, "two", bean.(*greeter).message)

	require.NoError(t, os.Remove(path))
	require.NoError(t, hd.Scan(ctx))
	assert.Empty(t, md.Deployed())
	assert.Equal(t, kernel.NotRegistered, k.Status("alpha"))
}

func TestHotDeployer_StartStop(t *testing.T) {
	k := newTestKernel(t)
	md := NewMainDeployer(k)
	dir := t.TempDir()
	writeDescriptor(t, dir, "beta", "hello")

	hd := NewHotDeployer(md)
	hd.SetDirectory(dir)
	hd.SetSchedule("@every 1h")
	hd.SetWatch(true)

	require.NoError(t, hd.Start(context.Background()))
	assert.ErrorIs(t, hd.Start(context.Background()), ErrHotDeployerStarted)
	assert.Eventually(t, func() bool {
		return k.Status("beta") == kernel.Started
	}, 2*time.Second, 10*time.Millisecond)

	staged := writeDescriptor(t, t.TempDir(), "gamma", "watched")
	require.NoError(t, os.Rename(staged, filepath.Join(dir, "gamma.yaml")))
	assert.Eventually(t, func() bool {
		return k.Status("gamma") == kernel.Started
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hd.Stop(ctx))
	assert.Len(t, md.Deployed(), 2, "stopping leaves deployments in place")
	require.NoError(t, md.Stop(ctx))
	assert.Empty(t, md.Deployed())
}

func TestHotDeployer_StartErrors(t *testing.T) {
	k := newTestKernel(t)
	hd := NewHotDeployer(NewMainDeployer(k))
	assert.ErrorIs(t, hd.Start(context.Background()), ErrNoDirectory)

	hd.SetDirectory(t.TempDir())
	hd.SetSchedule("not a schedule")
	assert.Error(t, hd.Start(context.Background()))
}
