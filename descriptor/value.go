package descriptor

// Kind identifies which variant of Value is populated.
type Kind int

const (
	KindLiteral Kind = iota
	KindInject
	KindNull
	KindThis
	KindMap
	KindList
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindInject:
		return "inject"
	case KindNull:
		return "null"
	case KindThis:
		return "this"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	default:
		return "unknown"
	}
}

// Value is a tagged union of the value forms accepted for constructor
// parameters, property values and collection entries. Exactly one of the
// pointer/flag fields is expected to be set; when none is, the value is a
// literal (possibly empty) taken from Text. In YAML the null key must be
// quoted, since a bare null is not a string key.
type Value struct {
	Text string `yaml:"value,omitempty" toml:"value,omitempty" json:"value,omitempty"`
	// Type is the declared type of a literal or parameter.
	Type string `yaml:"type,omitempty" toml:"type,omitempty" json:"type,omitempty"`

	Inject *Inject     `yaml:"inject,omitempty" toml:"inject,omitempty" json:"inject,omitempty"`
	Null   bool        `yaml:"null,omitempty" toml:"null,omitempty" json:"null,omitempty"`
	This   bool        `yaml:"this,omitempty" toml:"this,omitempty" json:"this,omitempty"`
	Map    *Map        `yaml:"map,omitempty" toml:"map,omitempty" json:"map,omitempty"`
	List   *Collection `yaml:"list,omitempty" toml:"list,omitempty" json:"list,omitempty"`
	Set    *Collection `yaml:"set,omitempty" toml:"set,omitempty" json:"set,omitempty"`
}

// Inject references another bean, optionally one of its properties.
type Inject struct {
	Bean     string `yaml:"bean" toml:"bean" json:"bean"`
	Property string `yaml:"property,omitempty" toml:"property,omitempty" json:"property,omitempty"`
}

// Map is a typed map literal.
type Map struct {
	Class      string  `yaml:"class,omitempty" toml:"class,omitempty" json:"class,omitempty"`
	KeyClass   string  `yaml:"keyClass,omitempty" toml:"keyClass,omitempty" json:"keyClass,omitempty"`
	ValueClass string  `yaml:"valueClass,omitempty" toml:"valueClass,omitempty" json:"valueClass,omitempty"`
	Entries    []Entry `yaml:"entries,omitempty" toml:"entries,omitempty" json:"entries,omitempty"`
}

// Entry is one key/value pair of a Map.
type Entry struct {
	Key   Value `yaml:"key" toml:"key" json:"key"`
	Value Value `yaml:"value" toml:"value" json:"value"`
}

// Collection is a typed list or set literal.
type Collection struct {
	Class        string  `yaml:"class,omitempty" toml:"class,omitempty" json:"class,omitempty"`
	ElementClass string  `yaml:"elementClass,omitempty" toml:"elementClass,omitempty" json:"elementClass,omitempty"`
	Values       []Value `yaml:"values,omitempty" toml:"values,omitempty" json:"values,omitempty"`
}

// Kind reports which variant the value holds.
func (v Value) Kind() Kind {
	switch {
	case v.Inject != nil:
		return KindInject
	case v.Null:
		return KindNull
	case v.This:
		return KindThis
	case v.Map != nil:
		return KindMap
	case v.List != nil:
		return KindList
	case v.Set != nil:
		return KindSet
	default:
		return KindLiteral
	}
}

// Literal returns a literal value.
func Literal(text string) Value {
	return Value{Text: text}
}

// TypedLiteral returns a literal value with a declared type.
func TypedLiteral(text, typ string) Value {
	return Value{Text: text, Type: typ}
}

// InjectBean returns a reference to another bean.
func InjectBean(bean string) Value {
	return Value{Inject: &Inject{Bean: bean}}
}

// InjectProperty returns a reference to a property of another bean.
func InjectProperty(bean, property string) Value {
	return Value{Inject: &Inject{Bean: bean, Property: property}}
}

// NullValue returns the null value.
func NullValue() Value {
	return Value{Null: true}
}

// ThisValue returns a reference to the bean under construction.
func ThisValue() Value {
	return Value{This: true}
}
