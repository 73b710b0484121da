// Package types models CQL column types as tagged descriptors with
// per-type validate, encode and decode operations. Parametric types
// (list, set, map) own their inner descriptors and delegate
// element-wise.
package types

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/cqlwire/cqlwire/pkg/frame"
)

// Kind is the numeric CQL type code as it appears on the wire.
type Kind uint16

const (
	KindCustom    Kind = 0x0000
	KindAscii     Kind = 0x0001
	KindBigint    Kind = 0x0002
	KindBlob      Kind = 0x0003
	KindBoolean   Kind = 0x0004
	KindCounter   Kind = 0x0005
	KindDecimal   Kind = 0x0006
	KindDouble    Kind = 0x0007
	KindFloat     Kind = 0x0008
	KindInt       Kind = 0x0009
	KindText      Kind = 0x000A
	KindTimestamp Kind = 0x000B
	KindUUID      Kind = 0x000C
	KindVarchar   Kind = 0x000D
	KindVarint    Kind = 0x000E
	KindTimeUUID  Kind = 0x000F
	KindInet      Kind = 0x0010
	KindList      Kind = 0x0020
	KindMap       Kind = 0x0021
	KindSet       Kind = 0x0022
)

var kindNames = map[Kind]string{
	KindCustom:    "custom",
	KindAscii:     "ascii",
	KindBigint:    "bigint",
	KindBlob:      "blob",
	KindBoolean:   "boolean",
	KindCounter:   "counter",
	KindDecimal:   "decimal",
	KindDouble:    "double",
	KindFloat:     "float",
	KindInt:       "int",
	KindText:      "text",
	KindTimestamp: "timestamp",
	KindUUID:      "uuid",
	KindVarchar:   "varchar",
	KindVarint:    "varint",
	KindTimeUUID:  "timeuuid",
	KindInet:      "inet",
	KindList:      "list",
	KindMap:       "map",
	KindSet:       "set",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown_0x%04x", uint16(k))
}

// Type is one CQL column type descriptor. Descriptors are immutable
// value objects and freely shareable.
type Type struct {
	kind   Kind
	custom string
	key    *Type // map key
	elem   *Type // list/set element, map value
}

// Primitive returns the descriptor for a non-parametric kind.
func Primitive(k Kind) Type {
	return Type{kind: k}
}

// Custom returns the descriptor for a custom type with the given
// server-side class name. Custom values are opaque bytes.
func Custom(class string) Type {
	return Type{kind: KindCustom, custom: class}
}

// List returns a list<elem> descriptor.
func List(elem Type) Type {
	return Type{kind: KindList, elem: &elem}
}

// Set returns a set<elem> descriptor.
func Set(elem Type) Type {
	return Type{kind: KindSet, elem: &elem}
}

// Map returns a map<key, val> descriptor.
func Map(key, val Type) Type {
	return Type{kind: KindMap, key: &key, elem: &val}
}

// Kind returns the type code tag.
func (t Type) Kind() Kind {
	return t.kind
}

// Class returns the custom class name; empty unless Kind is KindCustom.
func (t Type) Class() string {
	return t.custom
}

// Key returns the map key descriptor.
func (t Type) Key() Type {
	if t.key == nil {
		return Type{}
	}
	return *t.key
}

// Elem returns the element descriptor of a list or set, or the value
// descriptor of a map.
func (t Type) Elem() Type {
	if t.elem == nil {
		return Type{}
	}
	return *t.elem
}

func (t Type) String() string {
	switch t.kind {
	case KindCustom:
		return fmt.Sprintf("custom(%s)", t.custom)
	case KindList:
		return fmt.Sprintf("list<%s>", t.Elem())
	case KindSet:
		return fmt.Sprintf("set<%s>", t.Elem())
	case KindMap:
		return fmt.Sprintf("map<%s, %s>", t.Key(), t.Elem())
	default:
		return t.kind.String()
	}
}

// ReadType reads one type descriptor off a frame: the 2-byte type code,
// one parameter type for list/set, two for map, and a class name string
// for custom.
func ReadType(f *frame.Buffer) (Type, error) {
	code, err := f.ReadShort()
	if err != nil {
		return Type{}, err
	}

	switch k := Kind(code); k {
	case KindCustom:
		class, err := f.ReadString()
		if err != nil {
			return Type{}, err
		}
		return Custom(class), nil
	case KindList, KindSet:
		elem, err := ReadType(f)
		if err != nil {
			return Type{}, err
		}
		if k == KindList {
			return List(elem), nil
		}
		return Set(elem), nil
	case KindMap:
		key, err := ReadType(f)
		if err != nil {
			return Type{}, err
		}
		val, err := ReadType(f)
		if err != nil {
			return Type{}, err
		}
		return Map(key, val), nil
	default:
		if _, ok := kindNames[k]; !ok {
			return Type{}, errors.Wrapf(frame.ErrMalformed, "unknown type code 0x%04x", code)
		}
		return Primitive(k), nil
	}
}

// Write appends the wire form of the descriptor to a frame, the inverse
// of ReadType.
func (t Type) Write(f *frame.Buffer) {
	f.WriteShort(uint16(t.kind))
	switch t.kind {
	case KindCustom:
		f.WriteString(t.custom)
	case KindList, KindSet:
		t.Elem().Write(f)
	case KindMap:
		t.Key().Write(f)
		t.Elem().Write(f)
	}
}

const apacheClassPrefix = "org.apache.cassandra.db.marshal."

var apacheClasses = map[string]Kind{
	"AsciiType":         KindAscii,
	"LongType":          KindBigint,
	"BytesType":         KindBlob,
	"BooleanType":       KindBoolean,
	"CounterColumnType": KindCounter,
	"DecimalType":       KindDecimal,
	"DoubleType":        KindDouble,
	"FloatType":         KindFloat,
	"Int32Type":         KindInt,
	"UTF8Type":          KindVarchar,
	"DateType":          KindTimestamp,
	"TimestampType":     KindTimestamp,
	"UUIDType":          KindUUID,
	"IntegerType":       KindVarint,
	"TimeUUIDType":      KindTimeUUID,
	"InetAddressType":   KindInet,
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// ParseType resolves a type by its short CQL name, including the
// parametric list<T>, set<T> and map<K, V> forms, or by a
// fully-qualified org.apache.cassandra.db.marshal class name.
func ParseType(name string) (Type, error) {
	name = strings.TrimSpace(name)

	switch {
	case strings.HasPrefix(name, "list<"):
		inner, err := parseTypeParams(name[len("list<"):], 1)
		if err != nil {
			return Type{}, errors.Wrapf(err, "parsing %q", name)
		}
		return List(inner[0]), nil
	case strings.HasPrefix(name, "set<"):
		inner, err := parseTypeParams(name[len("set<"):], 1)
		if err != nil {
			return Type{}, errors.Wrapf(err, "parsing %q", name)
		}
		return Set(inner[0]), nil
	case strings.HasPrefix(name, "map<"):
		inner, err := parseTypeParams(name[len("map<"):], 2)
		if err != nil {
			return Type{}, errors.Wrapf(err, "parsing %q", name)
		}
		return Map(inner[0], inner[1]), nil
	case strings.HasPrefix(name, apacheClassPrefix):
		if k, ok := apacheClasses[name[len(apacheClassPrefix):]]; ok {
			return Primitive(k), nil
		}
		return Custom(name), nil
	case strings.Contains(name, "."):
		// Fully-qualified class names outside the marshal package are
		// opaque custom types.
		return Custom(name), nil
	}

	k, ok := kindsByName[name]
	if !ok || k == KindCustom || k == KindList || k == KindSet || k == KindMap {
		return Type{}, errors.Errorf("unknown type name %q", name)
	}
	return Primitive(k), nil
}

// parseTypeParams parses "K, V>"-style parameter tails, honouring
// nested angle brackets, and requires exactly want parameters.
func parseTypeParams(tail string, want int) ([]Type, error) {
	if !strings.HasSuffix(tail, ">") {
		return nil, errors.New("missing closing '>'")
	}
	tail = tail[:len(tail)-1]

	var parts []string
	depth, start := 0, 0
	for i, r := range tail {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, tail[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, tail[start:])

	if len(parts) != want {
		return nil, errors.Errorf("expected %d type parameters, got %d", want, len(parts))
	}

	out := make([]Type, len(parts))
	for i, p := range parts {
		t, err := ParseType(p)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
