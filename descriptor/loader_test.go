package descriptor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlDescriptor = `
beans:
  - name: pool
    class: example.Pool
    properties:
      - name: maxSize
        value: "${POOL_SIZE:10}"
      - name: limits
        map:
          keyClass: string
          valueClass: int
          entries:
            - key: {value: a}
              value: {value: "1"}
  - name: manager
    class: example.Manager
    constructor:
      parameters:
        - inject: {bean: pool}
        - value: "5"
          type: int
        - "null": true
    install: [Open]
    uninstall: [Close]
    callbacks:
      - kind: incallback
        method: AddPool
`

const tomlDescriptor = `
[[beans]]
name = "pool"
class = "example.Pool"

  [[beans.properties]]
  name = "maxSize"
  value = "${POOL_SIZE:10}"

  [[beans.properties]]
  name = "limits"
  [beans.properties.map]
  keyClass = "string"
  valueClass = "int"
    [[beans.properties.map.entries]]
    key = {value = "a"}
    value = {value = "1"}

[[beans]]
name = "manager"
class = "example.Manager"
install = ["Open"]
uninstall = ["Close"]

  [beans.constructor]
  parameters = [
    {inject = {bean = "pool"}},
    {value = "5", type = "int"},
    {null = true},
  ]

  [[beans.callbacks]]
  kind = "incallback"
  method = "AddPool"
`

const jsonDescriptor = `{
  "beans": [
    {
      "name": "pool",
      "class": "example.Pool",
      "properties": [
        {"name": "maxSize", "value": "${POOL_SIZE:10}"},
        {"name": "limits", "map": {"keyClass": "string", "valueClass": "int", "entries": [
          {"key": {"value": "a"}, "value": {"value": "1"}}
        ]}}
      ]
    },
    {
      "name": "manager",
      "class": "example.Manager",
      "constructor": {"parameters": [
        {"inject": {"bean": "pool"}},
        {"value": "5", "type": "int"},
        {"null": true}
      ]},
      "install": ["Open"],
      "uninstall": ["Close"],
      "callbacks": [{"kind": "incallback", "method": "AddPool"}]
    }
  ]
}`

func expectedDeployment() *Deployment {
	return &Deployment{Beans: []Bean{
		{
			Name:  "pool",
			Class: "example.Pool",
			Properties: []Property{
				{Name: "maxSize", Value: Literal("${POOL_SIZE:10}")},
				{Name: "limits", Value: Value{Map: &Map{
					KeyClass:   "string",
					ValueClass: "int",
					Entries:    []Entry{{Key: Literal("a"), Value: Literal("1")}},
				}}},
			},
		},
		{
			Name:  "manager",
			Class: "example.Manager",
			Constructor: &Constructor{Parameters: []Value{
				InjectBean("pool"),
				TypedLiteral("5", "int"),
				NullValue(),
			}},
			Install:   []string{"Open"},
			Uninstall: []string{"Close"},
			Callbacks: []Callback{{Kind: Incallback, Method: "AddPool"}},
		},
	}}
}

func TestDecode_Formats(t *testing.T) {
	tests := []struct {
		format Format
		input  string
	}{
		{FormatYAML, yamlDescriptor},
		{FormatTOML, tomlDescriptor},
		{FormatJSON, jsonDescriptor},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			d, err := Decode(strings.NewReader(tt.input), tt.format)
			require.NoError(t, err)
			assert.Equal(t, expectedDeployment(), d)
			assert.Equal(t, []string{"pool", "manager"}, d.Names())
			assert.Equal(t, KindInject, d.Beans[1].Constructor.Parameters[0].Kind())
			assert.Equal(t, KindNull, d.Beans[1].Constructor.Parameters[2].Kind())
		})
	}
}

func TestDecode_UnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader("beans:\n  - name: a\n    class: x\n    colour: red\n"), FormatYAML)
	assert.Error(t, err)

	_, err = Decode(strings.NewReader("[[beans]]\nname = \"a\"\nclass = \"x\"\ncolour = \"red\"\n"), FormatTOML)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = Decode(strings.NewReader(`{"beans":[{"name":"a","class":"x","colour":"red"}]}`), FormatJSON)
	assert.Error(t, err)

	_, err = Decode(strings.NewReader(""), Format("xml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDecode_EmptyYAML(t *testing.T) {
	d, err := Decode(strings.NewReader(""), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, d.Beans)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDescriptor), 0o600))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, d.Source)
	assert.Equal(t, path, d.String())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "pool.xml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	assert.Equal(t, "<inline>", (&Deployment{}).String())
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.toml": FormatTOML,
		"a.json": FormatJSON,
	} {
		got, err := FormatOf(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
		assert.True(t, Supported(path))
	}
	assert.False(t, Supported("a.txt"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		bean Bean
	}{
		{"no name", Bean{Class: "x"}},
		{"no class or constructor", Bean{Name: "a"}},
		{"factory bean and class", Bean{Name: "a", Constructor: &Constructor{Factory: &Factory{Bean: "f"}, FactoryClass: "x", FactoryMethod: "m"}}},
		{"factory without bean", Bean{Name: "a", Constructor: &Constructor{Factory: &Factory{}, FactoryMethod: "m"}}},
		{"constructor without class", Bean{Name: "a", Constructor: &Constructor{}}},
		{"factory without method", Bean{Name: "a", Constructor: &Constructor{FactoryClass: "x"}}},
		{"this as parameter", Bean{Name: "a", Class: "x", Constructor: &Constructor{Parameters: []Value{ThisValue()}}}},
		{"two forms", Bean{Name: "a", Class: "x", Properties: []Property{{Name: "p", Value: Value{Null: true, This: true}}}}},
		{"inject without bean", Bean{Name: "a", Class: "x", Properties: []Property{{Name: "p", Value: Value{Inject: &Inject{}}}}}},
		{"property without name", Bean{Name: "a", Class: "x", Properties: []Property{{Value: Literal("1")}}}},
		{"nested collection", Bean{Name: "a", Class: "x", Properties: []Property{{Name: "p", Value: Value{List: &Collection{
			Values: []Value{{List: &Collection{}}},
		}}}}}},
		{"bad callback kind", Bean{Name: "a", Class: "x", Callbacks: []Callback{{Kind: "sideways", Method: "M"}}}},
		{"callback without method", Bean{Name: "a", Class: "x", Callbacks: []Callback{{Kind: Incallback}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Deployment{Beans: []Bean{tt.bean}}).Validate()
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}

	dup := &Deployment{Beans: []Bean{{Name: "a", Class: "x"}, {Name: "a", Class: "x"}}}
	assert.ErrorIs(t, dup.Validate(), ErrInvalidDescriptor)

	ok := &Deployment{Beans: []Bean{
		{Name: "f", Class: "x"},
		{Name: "a", Constructor: &Constructor{Factory: &Factory{Bean: "f"}, FactoryMethod: "Make"}},
	}}
	assert.NoError(t, ok.Validate())
}
