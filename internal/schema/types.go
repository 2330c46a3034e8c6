package schema

import (
	"slices"

	"github.com/koustreak/pgextract/internal/canonical"
)

// Kind is the category of an extracted schema object.
type Kind string

const (
	KindTable            Kind = "table"
	KindView             Kind = "view"
	KindMaterializedView Kind = "materialized_view"
	KindForeignTable     Kind = "foreign_table"
	KindComposite        Kind = "composite"
	KindDomain           Kind = "domain"
	KindEnum             Kind = "enum"
	KindRange            Kind = "range"
	KindFunction         Kind = "function"
	KindProcedure        Kind = "procedure"
)

// AllKinds lists every kind in extraction order.
var AllKinds = []Kind{
	KindTable, KindView, KindMaterializedView, KindForeignTable,
	KindComposite, KindDomain, KindEnum, KindRange,
	KindFunction, KindProcedure,
}

// ObjectRef identifies one catalog object found during discovery.
type ObjectRef struct {
	Schema  string  `json:"schema"`
	Name    string  `json:"name"`
	Kind    Kind    `json:"kind"`
	Comment *string `json:"comment,omitempty"`
}

func (r ObjectRef) String() string { return r.Schema + "." + r.Name }

// Source points at the column a view column is selected from.
type Source struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Column string `json:"column"`
}

func (s Source) String() string { return s.Schema + "." + s.Table + "." + s.Column }

// ColumnReference is one foreign key edge leaving a column.
type ColumnReference struct {
	SchemaName string `json:"schema_name"`
	TableName  string `json:"table_name"`
	ColumnName string `json:"column_name"`
	OnUpdate   string `json:"on_update"`
	OnDelete   string `json:"on_delete"`
	Name       string `json:"name"`
}

// Column is shared by tables, views, materialized views and foreign tables.
// Source is only ever set on view and materialized view columns.
type Column struct {
	Name            string            `json:"name"`
	TypeRef         string            `json:"type_ref"`
	Type            canonical.Type    `json:"type"`
	IsNullable      bool              `json:"is_nullable"`
	IsPrimaryKey    bool              `json:"is_primary_key"`
	References      []ColumnReference `json:"references"`
	Source          *Source           `json:"source,omitempty"`
	Comment         *string           `json:"comment,omitempty"`
	DefaultValue    *string           `json:"default_value,omitempty"`
	OrdinalPosition int               `json:"ordinal_position"`
	IsIdentity      bool              `json:"is_identity"`
	IsUpdatable     bool              `json:"is_updatable"`
	Generated       string            `json:"generated"` // ALWAYS, NEVER or BY DEFAULT
	MaxLength       *int32            `json:"max_length,omitempty"`
}

// IndexColumn is one key of an index. Name is nil for expression keys.
type IndexColumn struct {
	Name       *string `json:"name"`
	Definition string  `json:"definition"`
}

type Index struct {
	Name      string        `json:"name"`
	IsPrimary bool          `json:"is_primary"`
	IsUnique  bool          `json:"is_unique"`
	Columns   []IndexColumn `json:"columns"`
}

// Check is a CHECK constraint with the outer CHECK(...) removed.
type Check struct {
	Name   string `json:"name"`
	Clause string `json:"clause"`
}

// SecurityPolicy is a row level security policy.
type SecurityPolicy struct {
	Name                    string   `json:"name"`
	IsPermissive            bool     `json:"is_permissive"`
	RolesAppliedTo          []string `json:"roles_applied_to"`
	CommandType             string   `json:"command_type"`
	VisibilityExpression    *string  `json:"visibility_expression,omitempty"`
	ModifiabilityExpression *string  `json:"modifiability_expression,omitempty"`
}

type Table struct {
	Schema                     string           `json:"schema"`
	Name                       string           `json:"name"`
	Comment                    *string          `json:"comment,omitempty"`
	Columns                    []Column         `json:"columns"`
	Indices                    []Index          `json:"indices"`
	Checks                     []Check          `json:"checks"`
	IsRowLevelSecurityEnabled  bool             `json:"is_row_level_security_enabled"`
	IsRowLevelSecurityEnforced bool             `json:"is_row_level_security_enforced"`
	SecurityPolicies           []SecurityPolicy `json:"security_policies"`
}

type ViewOptions struct {
	CheckOption     *string `json:"check_option,omitempty"` // local or cascaded
	SecurityBarrier bool    `json:"security_barrier"`
	SecurityInvoker bool    `json:"security_invoker"`
}

type View struct {
	Schema     string      `json:"schema"`
	Name       string      `json:"name"`
	Comment    *string     `json:"comment,omitempty"`
	Definition string      `json:"definition"`
	Columns    []Column    `json:"columns"`
	Options    ViewOptions `json:"options"`
}

type MaterializedView struct {
	Schema     string   `json:"schema"`
	Name       string   `json:"name"`
	Comment    *string  `json:"comment,omitempty"`
	Definition string   `json:"definition"`
	Columns    []Column `json:"columns"`
}

type ForeignTable struct {
	Schema  string            `json:"schema"`
	Name    string            `json:"name"`
	Comment *string           `json:"comment,omitempty"`
	Columns []Column          `json:"columns"`
	Server  string            `json:"server"`
	Options map[string]string `json:"options,omitempty"`
}

// CompositeAttribute is a composite member with its type resolved.
type CompositeAttribute struct {
	Name    string         `json:"name"`
	Ordinal int            `json:"ordinal"`
	TypeRef string         `json:"type_ref"`
	Type    canonical.Type `json:"type"`
}

type CompositeType struct {
	Schema     string               `json:"schema"`
	Name       string               `json:"name"`
	Comment    *string              `json:"comment,omitempty"`
	Type       canonical.Type       `json:"type"`
	Attributes []CompositeAttribute `json:"attributes"`
}

type Domain struct {
	Schema   string                  `json:"schema"`
	Name     string                  `json:"name"`
	Comment  *string                 `json:"comment,omitempty"`
	Type     canonical.Type          `json:"type"`
	BaseType canonical.QualifiedName `json:"base_type"`
	NotNull  bool                    `json:"not_null"`
	Default  *string                 `json:"default,omitempty"`
	Checks   []Check                 `json:"checks"`
}

type Enum struct {
	Schema  string         `json:"schema"`
	Name    string         `json:"name"`
	Comment *string        `json:"comment,omitempty"`
	Type    canonical.Type `json:"type"`
	Values  []string       `json:"values"`
}

type Range struct {
	Schema  string         `json:"schema"`
	Name    string         `json:"name"`
	Comment *string        `json:"comment,omitempty"`
	Type    canonical.Type `json:"type"`
	Subtype string         `json:"subtype"`
}

// Parameter modes as reported by pg_proc.proargmodes.
const (
	ModeIn       = "IN"
	ModeOut      = "OUT"
	ModeInOut    = "INOUT"
	ModeVariadic = "VARIADIC"
	ModeTable    = "TABLE"
)

type Parameter struct {
	Name            string         `json:"name"`
	TypeRef         string         `json:"type_ref"`
	Type            canonical.Type `json:"type"`
	Mode            string         `json:"mode"`
	HasDefault      bool           `json:"has_default"`
	OrdinalPosition int            `json:"ordinal_position"`
}

type Function struct {
	Schema            string         `json:"schema"`
	Name              string         `json:"name"`
	Comment           *string        `json:"comment,omitempty"`
	IdentityArguments string         `json:"identity_arguments"`
	Parameters        []Parameter    `json:"parameters"`
	ReturnTypeRef     string         `json:"return_type_ref"`
	ReturnType        canonical.Type `json:"return_type"`
	// ReturnsTable holds the columns of RETURNS TABLE(...).
	ReturnsTable      []Parameter `json:"returns_table,omitempty"`
	Language          string      `json:"language"`
	Definition        string      `json:"definition"`
	IsStrict          bool        `json:"is_strict"`
	IsSecurityDefiner bool        `json:"is_security_definer"`
	IsLeakProof       bool        `json:"is_leak_proof"`
	ReturnsSet        bool        `json:"returns_set"`
	Volatility        string      `json:"volatility"`      // IMMUTABLE, STABLE, VOLATILE
	ParallelSafety    string      `json:"parallel_safety"` // SAFE, RESTRICTED, UNSAFE
	EstimatedCost     float64     `json:"estimated_cost"`
	EstimatedRows     *float64    `json:"estimated_rows,omitempty"`
}

type Procedure struct {
	Schema            string      `json:"schema"`
	Name              string      `json:"name"`
	Comment           *string     `json:"comment,omitempty"`
	IdentityArguments string      `json:"identity_arguments"`
	Parameters        []Parameter `json:"parameters"`
	Language          string      `json:"language"`
	Definition        string      `json:"definition"`
	IsSecurityDefiner bool        `json:"is_security_definer"`
	IsLeakProof       bool        `json:"is_leak_proof"`
	ParallelSafety    string      `json:"parallel_safety"`
	EstimatedCost     float64     `json:"estimated_cost"`
}

// Schema aggregates every extracted object of one PostgreSQL schema.
type Schema struct {
	Name              string              `json:"name"`
	Tables            []*Table            `json:"tables"`
	Views             []*View             `json:"views"`
	MaterializedViews []*MaterializedView `json:"materialized_views"`
	ForeignTables     []*ForeignTable     `json:"foreign_tables"`
	Composites        []*CompositeType    `json:"composites"`
	Domains           []*Domain           `json:"domains"`
	Enums             []*Enum             `json:"enums"`
	Ranges            []*Range            `json:"ranges"`
	Functions         []*Function         `json:"functions"`
	Procedures        []*Procedure        `json:"procedures"`
}

// New returns an empty schema with non-nil collections so it encodes as [].
func New(name string) *Schema {
	return &Schema{
		Name:              name,
		Tables:            []*Table{},
		Views:             []*View{},
		MaterializedViews: []*MaterializedView{},
		ForeignTables:     []*ForeignTable{},
		Composites:        []*CompositeType{},
		Domains:           []*Domain{},
		Enums:             []*Enum{},
		Ranges:            []*Range{},
		Functions:         []*Function{},
		Procedures:        []*Procedure{},
	}
}

// Clone copies the schema and its collection slices. Objects are shared.
func (s *Schema) Clone() *Schema {
	c := *s
	c.Tables = slices.Clone(s.Tables)
	c.Views = slices.Clone(s.Views)
	c.MaterializedViews = slices.Clone(s.MaterializedViews)
	c.ForeignTables = slices.Clone(s.ForeignTables)
	c.Composites = slices.Clone(s.Composites)
	c.Domains = slices.Clone(s.Domains)
	c.Enums = slices.Clone(s.Enums)
	c.Ranges = slices.Clone(s.Ranges)
	c.Functions = slices.Clone(s.Functions)
	c.Procedures = slices.Clone(s.Procedures)
	return &c
}

// Table returns the table named name, or nil.
func (s *Schema) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// View returns the view named name, or nil.
func (s *Schema) View(name string) *View {
	for _, v := range s.Views {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// MaterializedView returns the materialized view named name, or nil.
func (s *Schema) MaterializedView(name string) *MaterializedView {
	for _, m := range s.MaterializedViews {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// FindColumn returns the named column of cols, or nil.
func FindColumn(cols []Column, name string) *Column {
	for i := range cols {
		if cols[i].Name == name {
			return &cols[i]
		}
	}
	return nil
}
