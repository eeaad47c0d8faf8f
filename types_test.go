package kernel

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeDescriptor_InvalidMembers(t *testing.T) {
	tests := []struct {
		name string
		td   *TypeDescriptor
	}{
		{"not a function", Describe[*alpha]("a").Constructor(42)},
		{"nil function", Describe[*alpha]("a").Constructor((func() *alpha)(nil))},
		{"variadic", Describe[*alpha]("a").Constructor(func(...string) *alpha { return nil })},
		{"constructor without result", Describe[*alpha]("a").Constructor(func() {})},
		{"constructor returning only an error", Describe[*alpha]("a").Constructor(func() error { return nil })},
		{"second result not an error", Describe[*alpha]("a").Factory("f", func() (*alpha, int) { return nil, 0 })},
		{"three results", Describe[*alpha]("a").Factory("f", func() (*alpha, int, error) { return nil, 0, nil })},
		{"method without receiver", Describe[*alpha]("a").Method("M", func() {})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTypeRegistry().Register(tt.td)
			assert.ErrorIs(t, err, ErrInvalidCallable)
		})
	}
}

func TestTypeRegistry_Register(t *testing.T) {
	r := NewTypeRegistry()
	require.NoError(t, r.Register(Describe[*alpha]("test.Alpha").Constructor(newAlpha)))
	assert.ErrorIs(t, r.Register(Describe[*alpha]("test.Alpha")), ErrTypeRegistered)
	assert.ErrorIs(t, r.Register(Describe[int]("int")), ErrTypeRegistered)

	td, ok := r.Lookup("test.Alpha")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeFor[*alpha](), td.Type)

	byType, ok := r.LookupType(reflect.TypeFor[*alpha]())
	require.True(t, ok)
	assert.Same(t, td, byType)
	assert.Equal(t, []string{"test.Alpha"}, r.Names())
}

func TestTypeRegistry_ResolveType(t *testing.T) {
	r := newTestTypes(t)

	tests := []struct {
		name string
		want reflect.Type
	}{
		{"string", reflect.TypeFor[string]()},
		{"time.Duration", durationType},
		{"test.Alpha", reflect.TypeFor[*alpha]()},
		{"[]int", reflect.TypeFor[[]int]()},
		{"[][]string", reflect.TypeFor[[][]string]()},
		{"map[string]int", reflect.TypeFor[map[string]int]()},
		{"map[string][]test.Alpha", reflect.TypeFor[map[string][]*alpha]()},
		{" int64 ", reflect.TypeFor[int64]()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveType(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"test.Missing", "map[[]int]int", "map[string]", "[]nope"} {
		_, err := r.ResolveType(bad)
		assert.ErrorIs(t, err, ErrResolution, bad)
	}
}

func TestCallable_Call(t *testing.T) {
	errBoom := errors.New("boom")
	c, err := newCallable("f", func(n int, s string, a *alpha) (string, error) {
		if n < 0 {
			return "", errBoom
		}
		if a != nil {
			return a.id, nil
		}
		return s, nil
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Arity())

	out, err := c.Call(nil, []any{1, "s", nil})
	require.NoError(t, err)
	assert.Equal(t, "s", out, "nil arguments become zero values")

	out, err = c.Call(nil, []any{int8(1), "s", &alpha{id: "a"}})
	require.NoError(t, err)
	assert.Equal(t, "a", out, "scalar arguments are converted")

	_, err = c.Call(nil, []any{-1, "s", nil})
	assert.ErrorIs(t, err, errBoom)

	_, err = c.Call(nil, []any{1})
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = c.Call(nil, []any{1, "s", &beta{}})
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestCallable_MethodReceiver(t *testing.T) {
	m, err := newCallable("GetLabel", (*gamma).GetLabel, true)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Arity())

	out, err := m.Call(&gamma{label: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", out)

	_, err = m.Call(&alpha{}, nil)
	assert.ErrorIs(t, err, ErrInvalidArguments)
}
