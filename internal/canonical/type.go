// Package canonical resolves PostgreSQL type references into canonical,
// kind-tagged descriptions.
//
// A reference such as "public.money_amount(10,2)[][]" is split into its
// element type name, modifiers and array dimensions by ParseReference, then
// resolved against the catalog by a Canonicalizer. The result is one of the
// Type variants below; consumers dispatch on it with a type switch.
package canonical

import (
	"encoding/json"
	"fmt"
)

// Kind names the catalog category of a resolved type.
type Kind string

const (
	KindBase      Kind = "base"
	KindComposite Kind = "composite"
	KindDomain    Kind = "domain"
	KindEnum      Kind = "enum"
	KindRange     Kind = "range"
	KindPseudo    Kind = "pseudo"
	KindUnknown   Kind = "unknown"
)

// kindFromCode maps pg_type.typtype to a Kind.
func kindFromCode(code string) Kind {
	switch code {
	case "b":
		return KindBase
	case "c":
		return KindComposite
	case "d":
		return KindDomain
	case "e":
		return KindEnum
	case "p":
		return KindPseudo
	case "r":
		return KindRange
	default:
		return KindUnknown
	}
}

// Type is a resolved type reference. The set of implementations is closed:
// *Base, *Composite, *Domain, *Enum, *Range, *Pseudo and *Unknown.
type Type interface {
	Kind() Kind
	// Info returns the fields shared by every kind.
	Info() Common
	json.Marshaler
	sealed()
}

// Common holds what every resolved type carries.
type Common struct {
	// CanonicalName is "schema.name" of the element type. For a domain it is
	// the domain's own name, never its base.
	CanonicalName string
	Schema        string
	Name          string
	// Dimensions counts array bracket suffixes on the reference.
	Dimensions int
	// OriginalType is the reference exactly as it was given.
	OriginalType string
	// Modifiers is the parenthesized suffix without parentheses, e.g. "10,2".
	Modifiers string
}

func (c Common) Info() Common { return c }

// QualifiedName identifies a named catalog type.
type QualifiedName struct {
	CanonicalName string `json:"canonical_name"`
	Schema        string `json:"schema"`
	Name          string `json:"name"`
}

// Attribute is one member of a composite type. TypeRef is left unresolved;
// use Canonicalizer.ExpandAttributes to resolve it.
type Attribute struct {
	Name    string `json:"name"`
	Ordinal int    `json:"ordinal"`
	TypeRef string `json:"type"`
}

// Base is a scalar type such as int4 or text.
type Base struct{ Common }

// Pseudo is a pseudo-type such as record, trigger or anyelement.
type Pseudo struct{ Common }

// Unknown is a type whose typtype has no dedicated variant (multiranges).
type Unknown struct{ Common }

// Composite is a row type with ordered attributes.
type Composite struct {
	Common
	Attributes []Attribute
}

// Domain is a constrained alias. BaseType is the first non-domain type
// reached by following the base-type chain.
type Domain struct {
	Common
	BaseType QualifiedName
}

// Enum carries its labels in catalog sort order.
type Enum struct {
	Common
	Values []string
}

// Range is an interval type over Subtype, given as a canonical name.
type Range struct {
	Common
	Subtype string
}

func (*Base) Kind() Kind      { return KindBase }
func (*Pseudo) Kind() Kind    { return KindPseudo }
func (*Unknown) Kind() Kind   { return KindUnknown }
func (*Composite) Kind() Kind { return KindComposite }
func (*Domain) Kind() Kind    { return KindDomain }
func (*Enum) Kind() Kind      { return KindEnum }
func (*Range) Kind() Kind     { return KindRange }

func (*Base) sealed()      {}
func (*Pseudo) sealed()    {}
func (*Unknown) sealed()   {}
func (*Composite) sealed() {}
func (*Domain) sealed()    {}
func (*Enum) sealed()      {}
func (*Range) sealed()     {}

// --- JSON ---

// wire is the flattened JSON form; variant fields are omitted when empty.
type wire struct {
	Kind           Kind           `json:"kind"`
	CanonicalName  string         `json:"canonical_name"`
	Schema         string         `json:"schema"`
	Name           string         `json:"name"`
	Dimensions     int            `json:"dimensions"`
	OriginalType   string         `json:"original_type,omitempty"`
	Modifiers      string         `json:"modifiers,omitempty"`
	Attributes     []Attribute    `json:"attributes,omitempty"`
	EnumValues     []string       `json:"enum_values,omitempty"`
	DomainBaseType *QualifiedName `json:"domain_base_type,omitempty"`
	RangeSubtype   string         `json:"range_subtype,omitempty"`
}

func toWire(t Type) wire {
	c := t.Info()
	w := wire{
		Kind:          t.Kind(),
		CanonicalName: c.CanonicalName,
		Schema:        c.Schema,
		Name:          c.Name,
		Dimensions:    c.Dimensions,
		OriginalType:  c.OriginalType,
		Modifiers:     c.Modifiers,
	}
	switch v := t.(type) {
	case *Base, *Pseudo, *Unknown:
	case *Composite:
		w.Attributes = v.Attributes
	case *Domain:
		base := v.BaseType
		w.DomainBaseType = &base
	case *Enum:
		w.EnumValues = v.Values
	case *Range:
		w.RangeSubtype = v.Subtype
	default:
		panic(fmt.Sprintf("canonical: unhandled type %T", t))
	}
	return w
}

func (t *Base) MarshalJSON() ([]byte, error)      { return json.Marshal(toWire(t)) }
func (t *Pseudo) MarshalJSON() ([]byte, error)    { return json.Marshal(toWire(t)) }
func (t *Unknown) MarshalJSON() ([]byte, error)   { return json.Marshal(toWire(t)) }
func (t *Composite) MarshalJSON() ([]byte, error) { return json.Marshal(toWire(t)) }
func (t *Domain) MarshalJSON() ([]byte, error)    { return json.Marshal(toWire(t)) }
func (t *Enum) MarshalJSON() ([]byte, error)      { return json.Marshal(toWire(t)) }
func (t *Range) MarshalJSON() ([]byte, error)     { return json.Marshal(toWire(t)) }
