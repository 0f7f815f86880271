package trip

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/fatih/structs"
)

// Kind describes how a key's values are ordered.
type Kind int

// Key kinds.
const (
	KindString Kind = iota + 1
	KindNumber
	KindIncomparable
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindIncomparable:
		return "incomparable"
	default:
		return "unknown"
	}
}

// Key is a field of Record addressed by its JSON name, e.g. "price" or "host.name".
type Key struct {
	Name string
	Kind Kind
	path []string // Go field names from Record down to the leaf
}

// Value is the extracted value of one key on one record.
type Value struct {
	Str string
	Num float64
}

// Extract reads the key's value from r.
func (k Key) Extract(r *Record) Value {
	f := structs.New(r).Field(k.path[0])
	for _, name := range k.path[1:] {
		f = f.Field(name)
	}
	switch v := f.Value().(type) {
	case string:
		return Value{Str: v}
	case int:
		return Value{Num: float64(v)}
	case float64:
		return Value{Num: v}
	default:
		return Value{}
	}
}

// Compare orders two values of this key: strings lexicographically, numbers numerically.
func (k Key) Compare(a, b Value) int {
	if k.Kind == KindNumber {
		return cmp.Compare(a.Num, b.Num)
	}
	return strings.Compare(a.Str, b.Str)
}

// registry maps JSON key names to keys. It is built once from the Record
// struct and never written afterwards.
var registry = buildRegistry()

func buildRegistry() map[string]Key {
	out := make(map[string]Key)
	register(out, structs.Fields(&Record{}), "", nil)
	return out
}

func register(out map[string]Key, fields []*structs.Field, prefix string, path []string) {
	for _, f := range fields {
		name := jsonName(f)
		if name == "" {
			continue
		}
		full := prefix + name
		p := append(slices.Clone(path), f.Name())

		switch kindOf(f.Kind()) {
		case KindString:
			out[full] = Key{Name: full, Kind: KindString, path: p}
		case KindNumber:
			out[full] = Key{Name: full, Kind: KindNumber, path: p}
		case 0:
			register(out, f.Fields(), full+".", p)
		default:
			out[full] = Key{Name: full, Kind: KindIncomparable, path: p}
		}
	}
}

// kindOf returns 0 for nested structs, which are flattened rather than keyed.
func kindOf(k reflect.Kind) Kind {
	switch k {
	case reflect.String:
		return KindString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return KindNumber
	case reflect.Struct:
		return 0
	default:
		return KindIncomparable
	}
}

func jsonName(f *structs.Field) string {
	tag := f.Tag("json")
	if tag == "-" {
		return ""
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return f.Name()
}

// LookupKey resolves a sort key by its JSON name.
func LookupKey(name string) (Key, error) {
	k, ok := registry[name]
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrUnknownKey, name)
	}
	if k.Kind == KindIncomparable {
		return Key{}, fmt.Errorf("%w: %q", ErrIncomparableKey, name)
	}
	return k, nil
}

// Keys lists the sortable key names in lexical order.
func Keys() []string {
	out := make([]string, 0, len(registry))
	for name, k := range registry {
		if k.Kind != KindIncomparable {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
