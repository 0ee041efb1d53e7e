package nodes

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TypeKind is the logical kind of a value flowing through the IR.
type TypeKind int

const (
	TypeUnknown TypeKind = iota
	TypeBool
	TypeInt
	TypeInt64
	TypeFloat
	TypeDecimal
	TypeString
	TypeDateTime
	TypeBytes
	TypeRow
	TypeCollection
)

var typeKindNames = [...]string{
	TypeUnknown:    "unknown",
	TypeBool:       "bool",
	TypeInt:        "int",
	TypeInt64:      "int64",
	TypeFloat:      "float",
	TypeDecimal:    "decimal",
	TypeString:     "string",
	TypeDateTime:   "datetime",
	TypeBytes:      "bytes",
	TypeRow:        "row",
	TypeCollection: "collection",
}

func (k TypeKind) String() string {
	if int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return "unknown"
}

// Type is a node's declared result type.
type Type struct {
	Kind     TypeKind
	Nullable bool
}

var (
	UnknownType    = Type{}
	BoolType       = Type{Kind: TypeBool}
	IntType        = Type{Kind: TypeInt}
	Int64Type      = Type{Kind: TypeInt64}
	FloatType      = Type{Kind: TypeFloat}
	DecimalType    = Type{Kind: TypeDecimal}
	StringType     = Type{Kind: TypeString}
	DateTimeType   = Type{Kind: TypeDateTime}
	BytesType      = Type{Kind: TypeBytes}
	RowType        = Type{Kind: TypeRow}
	CollectionType = Type{Kind: TypeCollection}
)

// Null returns t marked nullable.
func (t Type) Null() Type {
	t.Nullable = true
	return t
}

// NotNull returns t marked non-nullable.
func (t Type) NotNull() Type {
	t.Nullable = false
	return t
}

func (t Type) IsBool() bool    { return t.Kind == TypeBool }
func (t Type) IsInteger() bool { return t.Kind == TypeInt || t.Kind == TypeInt64 }

func (t Type) IsNumeric() bool {
	switch t.Kind {
	case TypeInt, TypeInt64, TypeFloat, TypeDecimal:
		return true
	}
	return false
}

// IsScalar reports whether values of t fit in a single column.
func (t Type) IsScalar() bool {
	return t.Kind != TypeRow && t.Kind != TypeCollection
}

func (t Type) String() string {
	if t.Nullable {
		return t.Kind.String() + "?"
	}
	return t.Kind.String()
}

// ParseType parses a type name such as "int64", "string?" or "decimal".
// A trailing "?" marks the type nullable.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	nullable := strings.HasSuffix(s, "?")
	s = strings.TrimSuffix(s, "?")
	var k TypeKind
	switch s {
	case "bool", "boolean":
		k = TypeBool
	case "int", "int32", "integer":
		k = TypeInt
	case "int64", "long", "bigint":
		k = TypeInt64
	case "float", "float64", "double":
		k = TypeFloat
	case "decimal", "numeric", "money":
		k = TypeDecimal
	case "string", "text":
		k = TypeString
	case "datetime", "time", "timestamp", "date":
		k = TypeDateTime
	case "bytes", "blob", "binary":
		k = TypeBytes
	default:
		return UnknownType, fmt.Errorf("unknown type %q", s)
	}
	return Type{Kind: k, Nullable: nullable}, nil
}

// Promote returns the wider of two numeric types; nullability is
// contagious.
func Promote(a, b Type) Type {
	rank := func(k TypeKind) int {
		switch k {
		case TypeInt:
			return 1
		case TypeInt64:
			return 2
		case TypeDecimal:
			return 3
		case TypeFloat:
			return 4
		}
		return 0
	}
	out := a
	if rank(b.Kind) > rank(a.Kind) {
		out = b
	}
	if out.Kind == TypeUnknown {
		out = b
	}
	out.Nullable = a.Nullable || b.Nullable
	return out
}

// TypeOf infers the IR type of a Go value.
func TypeOf(v any) Type {
	switch v.(type) {
	case nil:
		return UnknownType.Null()
	case bool:
		return BoolType
	case int, int8, int16, int32, uint8, uint16:
		return IntType
	case int64, uint32, uint64, uint:
		return Int64Type
	case float32, float64:
		return FloatType
	case decimal.Decimal:
		return DecimalType
	case string:
		return StringType
	case time.Time:
		return DateTimeType
	case []byte:
		return BytesType
	}
	return UnknownType
}
