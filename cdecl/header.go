// Package cdecl holds the declarations extracted from a C header.
package cdecl

import (
	"regexp"

	orderedmap "dllbindgen/ordered_map"
)

type Param struct {
	Name string
	Type Type
}

// Function is an exported C function.
type Function struct {
	Name     string
	Params   []Param
	Result   Type
	Variadic bool
}

type Field struct {
	// Name is empty for a C11 anonymous member until the parser names it.
	Name     string
	Type     Type
	BitField bool
}

// Record is a struct or union declaration.
type Record struct {
	Name string
	// Tagged is set when C code can spell the record as "struct Name". Records
	// named after their typedef or parent field are not tagged.
	Tagged bool
	// Anonymous records have no C spelling at all; their name comes from the
	// field that holds them or from their size.
	Anonymous bool
	Union     bool
	// Opaque records are only forward declared.
	Opaque bool
	Size   int64
	Align  int64
	Fields []Field
}

// HasBitFields reports whether any field is a bit-field.
func (r *Record) HasBitFields() bool {
	for _, f := range r.Fields {
		if f.BitField {
			return true
		}
	}
	return false
}

type EnumMember struct {
	Name  string
	Value int64
}

type Enum struct {
	Name       string
	Tagged     bool
	Underlying Type
	Members    []EnumMember
}

type Typedef struct {
	Name       string
	Underlying Type
}

type ConstKind int

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstString
)

func (k ConstKind) String() string {
	switch k {
	case ConstFloat:
		return "float"
	case ConstString:
		return "string"
	default:
		return "int"
	}
}

// Constant is an object-like macro with a literal value.
type Constant struct {
	Name  string
	Kind  ConstKind
	Value string
}

// Header is everything a binding generator needs from one parsed header.
type Header struct {
	Path      string
	Functions *orderedmap.OrderedMap[string, *Function]
	Records   *orderedmap.OrderedMap[string, *Record]
	Enums     *orderedmap.OrderedMap[string, *Enum]
	Typedefs  *orderedmap.OrderedMap[string, *Typedef]
	Constants *orderedmap.OrderedMap[string, *Constant]
}

func NewHeader(path string) *Header {
	return &Header{
		Path:      path,
		Functions: orderedmap.NewOrderedMap[string, *Function](),
		Records:   orderedmap.NewOrderedMap[string, *Record](),
		Enums:     orderedmap.NewOrderedMap[string, *Enum](),
		Typedefs:  orderedmap.NewOrderedMap[string, *Typedef](),
		Constants: orderedmap.NewOrderedMap[string, *Constant](),
	}
}

// ResolveTypedef follows typedef chains until it reaches a non-typedef type.
// Typedefs the header does not declare are returned unchanged.
func (h *Header) ResolveTypedef(t Type) Type {
	for seen := 0; t.Kind == KindTypedef && seen < 32; seen++ {
		td, ok := h.Typedefs.Get(t.Name)
		if !ok {
			return t
		}
		t = td.Underlying
	}
	return t
}

// Filter returns a copy of h restricted to declarations whose names match
// allow, plus every record, enum and typedef they reach. A nil allow
// returns h itself.
func (h *Header) Filter(allow *regexp.Regexp) *Header {
	if allow == nil {
		return h
	}
	keep := map[string]bool{}
	var reach func(t Type)
	reach = func(t Type) {
		t.Walk(func(n Type) {
			switch n.Kind {
			case KindRecord, KindEnum, KindTypedef:
				key := n.Kind.String() + ":" + n.Name
				if keep[key] {
					return
				}
				keep[key] = true
				switch n.Kind {
				case KindRecord:
					if r, ok := h.Records.Get(n.Name); ok {
						for _, f := range r.Fields {
							reach(f.Type)
						}
					}
				case KindTypedef:
					if td, ok := h.Typedefs.Get(n.Name); ok {
						reach(td.Underlying)
					}
				}
			}
		})
	}

	out := NewHeader(h.Path)
	for _, fn := range h.Functions.Values() {
		if !allow.MatchString(fn.Name) {
			continue
		}
		out.Functions.Set(fn.Name, fn)
		for _, p := range fn.Params {
			reach(p.Type)
		}
		reach(fn.Result)
	}
	for _, r := range h.Records.Values() {
		if allow.MatchString(r.Name) {
			reach(RecordRef(r.Name))
		}
	}
	for _, e := range h.Enums.Values() {
		if allow.MatchString(e.Name) {
			keep["enum:"+e.Name] = true
		}
	}
	for _, td := range h.Typedefs.Values() {
		if allow.MatchString(td.Name) {
			reach(TypedefRef(td.Name))
		}
	}
	for _, r := range h.Records.Values() {
		if keep["record:"+r.Name] {
			out.Records.Set(r.Name, r)
		}
	}
	for _, e := range h.Enums.Values() {
		if keep["enum:"+e.Name] {
			out.Enums.Set(e.Name, e)
		}
	}
	for _, td := range h.Typedefs.Values() {
		if keep["typedef:"+td.Name] {
			out.Typedefs.Set(td.Name, td)
		}
	}
	for _, c := range h.Constants.Values() {
		if allow.MatchString(c.Name) {
			out.Constants.Set(c.Name, c)
		}
	}
	return out
}
