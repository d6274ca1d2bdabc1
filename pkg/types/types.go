// Package types implements the canonical column-type registry shared by
// every other component: schema prediction, plan building, output-field
// validation, and YAML persistence all exchange data through DataType and
// Column rather than through a runtime-specific representation.
package types

import (
	"fmt"
	"strings"
)

// DataType is the canonical name of a column type. It is a closed set;
// List and Struct carry nested type information and are rendered with
// their element/field types baked into the string form (List<Int64>,
// Struct<{a:Int64,b:String}>).
type DataType struct {
	Kind   Kind
	Elem   *DataType          // set when Kind == KindList
	Fields []StructField      // set when Kind == KindStruct, ordered
}

// StructField is one named, typed member of a Struct type.
type StructField struct {
	Name string
	Type DataType
}

// Kind enumerates the primitive type families.
type Kind string

const (
	KindInt8     Kind = "Int8"
	KindInt16    Kind = "Int16"
	KindInt32    Kind = "Int32"
	KindInt64    Kind = "Int64"
	KindUInt8    Kind = "UInt8"
	KindUInt16   Kind = "UInt16"
	KindUInt32   Kind = "UInt32"
	KindUInt64   Kind = "UInt64"
	KindFloat32  Kind = "Float32"
	KindFloat64  Kind = "Float64"
	KindBoolean  Kind = "Boolean"
	KindString   Kind = "String"
	KindBinary   Kind = "Binary"
	KindDate     Kind = "Date"
	KindTime     Kind = "Time"
	KindDatetime Kind = "Datetime"
	KindDuration Kind = "Duration"
	KindList     Kind = "List"
	KindStruct   Kind = "Struct"
	KindNull     Kind = "Null"
	KindUnknown  Kind = "Unknown"
)

// Scalar constructs a DataType for a primitive kind (anything but List/Struct).
func Scalar(k Kind) DataType { return DataType{Kind: k} }

// List constructs a List<elem> type.
func List(elem DataType) DataType { return DataType{Kind: KindList, Elem: &elem} }

// Struct constructs a Struct<{...}> type from ordered fields.
func Struct(fields ...StructField) DataType { return DataType{Kind: KindStruct, Fields: fields} }

var (
	Int8     = Scalar(KindInt8)
	Int16    = Scalar(KindInt16)
	Int32    = Scalar(KindInt32)
	Int64    = Scalar(KindInt64)
	UInt8    = Scalar(KindUInt8)
	UInt16   = Scalar(KindUInt16)
	UInt32   = Scalar(KindUInt32)
	UInt64   = Scalar(KindUInt64)
	Float32  = Scalar(KindFloat32)
	Float64  = Scalar(KindFloat64)
	Boolean  = Scalar(KindBoolean)
	String   = Scalar(KindString)
	Binary   = Scalar(KindBinary)
	Date     = Scalar(KindDate)
	Time     = Scalar(KindTime)
	Datetime = Scalar(KindDatetime)
	Duration = Scalar(KindDuration)
	Null     = Scalar(KindNull)
	Unknown  = Scalar(KindUnknown)
)

// FormatType renders a DataType to its stable textual name, used in
// persistence and error messages. The format is frozen: changing it
// would break fingerprint round-trip stability (spec invariant 3).
func FormatType(t DataType) string {
	switch t.Kind {
	case KindList:
		if t.Elem == nil {
			return "List<Unknown>"
		}
		return fmt.Sprintf("List<%s>", FormatType(*t.Elem))
	case KindStruct:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = fmt.Sprintf("%s:%s", f.Name, FormatType(f.Type))
		}
		return fmt.Sprintf("Struct<{%s}>", strings.Join(parts, ","))
	default:
		return string(t.Kind)
	}
}

// ParseType parses a textual type name produced by FormatType back into a
// DataType. Returns an error for malformed List/Struct nesting.
func ParseType(name string) (DataType, error) {
	name = strings.TrimSpace(name)
	switch {
	case strings.HasPrefix(name, "List<") && strings.HasSuffix(name, ">"):
		inner := name[len("List<") : len(name)-1]
		elem, err := ParseType(inner)
		if err != nil {
			return DataType{}, fmt.Errorf("parse list element: %w", err)
		}
		return List(elem), nil
	case strings.HasPrefix(name, "Struct<{") && strings.HasSuffix(name, "}>"):
		inner := name[len("Struct<{") : len(name)-2]
		if inner == "" {
			return Struct(), nil
		}
		fieldStrs := splitTopLevel(inner, ',')
		fields := make([]StructField, 0, len(fieldStrs))
		for _, fs := range fieldStrs {
			idx := strings.Index(fs, ":")
			if idx < 0 {
				return DataType{}, fmt.Errorf("invalid struct field %q", fs)
			}
			fieldName := fs[:idx]
			fieldType, err := ParseType(fs[idx+1:])
			if err != nil {
				return DataType{}, fmt.Errorf("parse struct field %q: %w", fieldName, err)
			}
			fields = append(fields, StructField{Name: fieldName, Type: fieldType})
		}
		return Struct(fields...), nil
	default:
		switch Kind(name) {
		case KindInt8, KindInt16, KindInt32, KindInt64,
			KindUInt8, KindUInt16, KindUInt32, KindUInt64,
			KindFloat32, KindFloat64, KindBoolean, KindString, KindBinary,
			KindDate, KindTime, KindDatetime, KindDuration, KindNull, KindUnknown:
			return Scalar(Kind(name)), nil
		}
		return DataType{}, fmt.Errorf("unknown type name %q", name)
	}
}

// splitTopLevel splits s on sep, ignoring occurrences nested inside <...> or {...}.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '{':
			depth++
		case '>', '}':
			depth--
		default:
			if s[i] == sep && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// Equal reports whether two DataTypes are structurally identical.
func Equal(a, b DataType) bool {
	return FormatType(a) == FormatType(b)
}

var signedFamily = []Kind{KindInt8, KindInt16, KindInt32, KindInt64}
var unsignedFamily = []Kind{KindUInt8, KindUInt16, KindUInt32, KindUInt64}
var floatFamily = []Kind{KindFloat32, KindFloat64}

func familyIndex(family []Kind, k Kind) int {
	for i, f := range family {
		if f == k {
			return i
		}
	}
	return -1
}

// IsAssignable reports whether a value of type `from` can be assigned to a
// column declared as `to`, per the widening rules in spec §4.1: integers
// widen within signed/unsigned families, Null is assignable to anything
// (nullability is handled by the caller), and String is the universal
// fallback target.
func IsAssignable(from, to DataType) bool {
	if Equal(from, to) {
		return true
	}
	if from.Kind == KindNull {
		return true
	}
	if to.Kind == KindString {
		return true
	}
	if from.Kind == KindUnknown || to.Kind == KindUnknown {
		return true
	}

	if i := familyIndex(signedFamily, from.Kind); i >= 0 {
		if j := familyIndex(signedFamily, to.Kind); j >= 0 {
			return i <= j
		}
	}
	if i := familyIndex(unsignedFamily, from.Kind); i >= 0 {
		if j := familyIndex(unsignedFamily, to.Kind); j >= 0 {
			return i <= j
		}
	}
	if i := familyIndex(floatFamily, from.Kind); i >= 0 {
		if j := familyIndex(floatFamily, to.Kind); j >= 0 {
			return i <= j
		}
	}

	if from.Kind == KindList && to.Kind == KindList && from.Elem != nil && to.Elem != nil {
		return IsAssignable(*from.Elem, *to.Elem)
	}

	return false
}

// Column is a named, typed, nullable slot in a Schema.
type Column struct {
	Name       string   `yaml:"name" json:"name"`
	DataType   DataType `yaml:"-" json:"-"`
	TypeName   string   `yaml:"data_type" json:"data_type"`
	Nullable   bool     `yaml:"nullable" json:"nullable"`
}

// NewColumn builds a Column, keeping TypeName in sync with DataType for
// serialization.
func NewColumn(name string, dt DataType, nullable bool) Column {
	return Column{Name: name, DataType: dt, TypeName: FormatType(dt), Nullable: nullable}
}

// SyncTypeName recomputes TypeName from DataType; call after mutating DataType directly.
func (c *Column) SyncTypeName() { c.TypeName = FormatType(c.DataType) }

// HydrateType parses TypeName into DataType; call after unmarshalling from YAML/JSON.
func (c *Column) HydrateType() error {
	dt, err := ParseType(c.TypeName)
	if err != nil {
		return err
	}
	c.DataType = dt
	return nil
}

// Schema is an ordered sequence of uniquely named Columns.
type Schema []Column

// ColumnNames returns the ordered column names.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Column returns the column with the given name, or false if absent.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Has reports whether a column with the given name exists.
func (s Schema) Has(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// Validate enforces schema-level invariants: unique, case-sensitive column names.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, c := range s {
		if c.Name == "" {
			return fmt.Errorf("column name must not be empty")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column name %q", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Equal compares two schemas by ordered (name, type) pairs, case-sensitive.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i].Name != other[i].Name {
			return false
		}
		if !Equal(s[i].DataType, other[i].DataType) {
			return false
		}
	}
	return true
}

// Clone returns a deep-enough copy of the schema for safe mutation by callers.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

// Row is a single materialized record, keyed by column name. It is the
// coordinator-side representation of a result row — the worker's dataframe
// runtime marshals to and from this shape at the protocol boundary.
type Row map[string]interface{}

// Result pairs a materialized row set with the schema it was produced
// against, the unit the Output-Field Validator and the Cache both operate
// on.
type Result struct {
	Schema Schema
	Rows   []Row
}
