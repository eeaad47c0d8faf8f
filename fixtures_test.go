package kernel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/kernel/descriptor"
)

var errHookFailed = errors.New("hook failed")

type alpha struct {
	id string
}

func newAlpha() *alpha               { return &alpha{id: "default"} }
func newNamedAlpha(id string) *alpha { return &alpha{id: id} }
func newNilAlpha() *alpha            { return nil }

type alphaFactory struct {
	prefix string
}

func newAlphaFactory(prefix string) *alphaFactory { return &alphaFactory{prefix: prefix} }

func (f *alphaFactory) Make(id string) *alpha { return &alpha{id: f.prefix + id} }

type beta struct {
	a *alpha
}

func newBeta(a *alpha) *beta { return &beta{a: a} }

// gamma has a setter for every kind of value the binder produces.
type gamma struct {
	b       *beta
	self    *gamma
	label   string
	count   int
	ratio   float64
	enabled bool
	timeout time.Duration
	addr    net.IP
	kind    reflect.Type
	limits  map[string]int
	hosts   []string
	ports   map[int]struct{}
	tags    []string
	betas   []*beta
}

func newGamma() *gamma { return &gamma{} }

func (g *gamma) SetBeta(b *beta)             { g.b = b }
func (g *gamma) SetSelf(s *gamma)            { g.self = s }
func (g *gamma) SetLabel(l string)           { g.label = l }
func (g *gamma) SetCount(c int)              { g.count = c }
func (g *gamma) SetRatio(r float64)          { g.ratio = r }
func (g *gamma) SetEnabled(e bool)           { g.enabled = e }
func (g *gamma) SetTimeout(d time.Duration)  { g.timeout = d }
func (g *gamma) SetAddr(ip net.IP)           { g.addr = ip }
func (g *gamma) SetKind(t reflect.Type)      { g.kind = t }
func (g *gamma) SetLimits(m map[string]int)  { g.limits = m }
func (g *gamma) SetHosts(h []string)         { g.hosts = h }
func (g *gamma) SetPorts(p map[int]struct{}) { g.ports = p }
func (g *gamma) SetTags(t []string)          { g.tags = t }
func (g *gamma) SetBetas(b []*beta)          { g.betas = b }
func (g *gamma) GetLabel() string            { return g.label }
func (g *gamma) IsEnabled() bool             { return g.enabled }
func (g *gamma) SetStrict(s string) error    { return fmt.Errorf("strict %s rejected", s) }

// sized has two constructors of the same arity.
type sized struct {
	size  int
	label string
}

func newSizedFromInt(n int) *sized       { return &sized{size: n} }
func newSizedFromString(s string) *sized { return &sized{label: s} }

// recorder collects lifecycle calls across beans.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// lifecycle records its hooks and fails the one named by failOn.
type lifecycle struct {
	name   string
	rec    *recorder
	failOn string
}

func newLifecycle(name string, rec *recorder) *lifecycle {
	return &lifecycle{name: name, rec: rec}
}

func (l *lifecycle) SetFailOn(step string) { l.failOn = step }

func (l *lifecycle) step(s string) error {
	l.rec.add(l.name + ":" + s)
	if l.failOn == s {
		return fmt.Errorf("%s %s: %w", l.name, s, errHookFailed)
	}
	return nil
}

func (l *lifecycle) Create(context.Context) error  { return l.step("create") }
func (l *lifecycle) Start(context.Context) error   { return l.step("start") }
func (l *lifecycle) Stop(context.Context) error    { return l.step("stop") }
func (l *lifecycle) Destroy(context.Context) error { return l.step("destroy") }
func (l *lifecycle) Install() error                { return l.step("install") }
func (l *lifecycle) Uninstall() error              { return l.step("uninstall") }
func (l *lifecycle) Explode()                      { panic("boom") }

// plugin is what a hub collects through callbacks.
type plugin interface {
	PluginName() string
}

type namedPlugin struct {
	name string
}

func newNamedPlugin(name string) *namedPlugin { return &namedPlugin{name: name} }
func (p *namedPlugin) PluginName() string     { return p.name }

type hub struct {
	mu        sync.Mutex
	added     []string
	removed   []string
	failOnRem bool
}

func newHub() *hub { return &hub{} }

func (h *hub) Add(p plugin) {
	if p.PluginName() == "boom" {
		panic("boom plugin")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.added = append(h.added, p.PluginName())
}

func (h *hub) Remove(p plugin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failOnRem {
		return fmt.Errorf("cannot remove %s", p.PluginName())
	}
	h.removed = append(h.removed, p.PluginName())
	return nil
}

func (h *hub) SetFailOnRemove(v bool) { h.failOnRem = v }

func (h *hub) snapshot() (added, removed []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	added, removed = slices.Clone(h.added), slices.Clone(h.removed)
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

// latch lets a test hold a bean inside its start hook.
type latch struct {
	entered chan struct{}
	release chan struct{}
}

func newLatch() *latch {
	return &latch{entered: make(chan struct{}), release: make(chan struct{})}
}

type gated struct {
	l *latch
}

func newGated(l *latch) *gated { return &gated{l: l} }

func (g *gated) Start(context.Context) error {
	close(g.l.entered)
	<-g.l.release
	return nil
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

// testLogger records log calls.
type testLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *testLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *testLogger) Info(msg string, args ...any)  { l.log("info", msg, args) }
func (l *testLogger) Error(msg string, args ...any) { l.log("error", msg, args) }
func (l *testLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args) }
func (l *testLogger) Debug(msg string, args ...any) { l.log("debug", msg, args) }

func (l *testLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

func newTestTypes(t *testing.T) *TypeRegistry {
	t.Helper()
	types := NewTypeRegistry()
	require.NoError(t, types.Register(
		Describe[*alpha]("test.Alpha").
			Constructor(newAlpha).
			Factory("Named", newNamedAlpha).
			Factory("Nil", newNilAlpha),
		Describe[*alphaFactory]("test.AlphaFactory").
			Constructor(newAlphaFactory).
			Method("Make", (*alphaFactory).Make),
		Describe[*beta]("test.Beta").
			Constructor(newBeta),
		Describe[*gamma]("test.Gamma").
			Constructor(newGamma).
			Method("SetBeta", (*gamma).SetBeta).
			Method("SetSelf", (*gamma).SetSelf).
			Method("SetLabel", (*gamma).SetLabel).
			Method("SetCount", (*gamma).SetCount).
			Method("SetRatio", (*gamma).SetRatio).
			Method("SetEnabled", (*gamma).SetEnabled).
			Method("SetTimeout", (*gamma).SetTimeout).
			Method("SetAddr", (*gamma).SetAddr).
			Method("SetKind", (*gamma).SetKind).
			Method("SetLimits", (*gamma).SetLimits).
			Method("SetHosts", (*gamma).SetHosts).
			Method("SetPorts", (*gamma).SetPorts).
			Method("SetTags", (*gamma).SetTags).
			Method("SetBetas", (*gamma).SetBetas).
			Method("SetStrict", (*gamma).SetStrict).
			Method("GetLabel", (*gamma).GetLabel).
			Method("IsEnabled", (*gamma).IsEnabled),
		Describe[*sized]("test.Sized").
			Constructor(newSizedFromInt).
			Constructor(newSizedFromString),
		Describe[*recorder]("test.Recorder"),
		Describe[*lifecycle]("test.Lifecycle").
			Constructor(newLifecycle).
			Method("SetFailOn", (*lifecycle).SetFailOn).
			Method("Install", (*lifecycle).Install).
			Method("Uninstall", (*lifecycle).Uninstall).
			Method("Explode", (*lifecycle).Explode),
		Describe[*latch]("test.Latch"),
		Describe[*gated]("test.Gated").
			Constructor(newGated),
		Describe[*namedPlugin]("test.Plugin").
			Constructor(newNamedPlugin),
		Describe[*hub]("test.Hub").
			Constructor(newHub).
			Method("Add", (*hub).Add).
			Method("Remove", (*hub).Remove).
			Method("SetFailOnRemove", (*hub).SetFailOnRemove),
	))
	return types
}

func newTestKernel(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	k, err := New(newTestTypes(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Shutdown(context.Background()) })
	return k
}

// newRecordingKernel registers a shared recorder as the live bean "rec".
func newRecordingKernel(t *testing.T, opts ...Option) (*Kernel, *recorder) {
	t.Helper()
	k := newTestKernel(t, opts...)
	rec := &recorder{}
	require.NoError(t, k.RegisterInstance("rec", rec))
	return k, rec
}

func deployBeans(k *Kernel, beans ...descriptor.Bean) (*Unit, error) {
	return k.Deploy(context.Background(), &descriptor.Deployment{Source: "test", Beans: beans})
}

func lifecycleBean(name string, deps ...string) descriptor.Bean {
	return descriptor.Bean{
		Name:  name,
		Class: "test.Lifecycle",
		Constructor: &descriptor.Constructor{Parameters: []descriptor.Value{
			descriptor.Literal(name),
			descriptor.InjectBean("rec"),
		}},
		Depends: deps,
	}
}

func pluginBean(name string) descriptor.Bean {
	return descriptor.Bean{
		Name:        name,
		Class:       "test.Plugin",
		Constructor: &descriptor.Constructor{Parameters: []descriptor.Value{descriptor.Literal(name)}},
	}
}

func hubBean(name string, deps ...string) descriptor.Bean {
	return descriptor.Bean{
		Name:    name,
		Class:   "test.Hub",
		Depends: deps,
		Callbacks: []descriptor.Callback{
			{Kind: descriptor.Incallback, Method: "Add"},
			{Kind: descriptor.Uncallback, Method: "Remove"},
		},
	}
}

func asDeploymentError(t *testing.T, err error) *DeploymentError {
	t.Helper()
	require.Error(t, err)
	var derr *DeploymentError
	require.ErrorAs(t, err, &derr)
	return derr
}
