package ingest

import (
	"fmt"
	"sort"

	"github.com/erp/costalloc/internal/domain/shared"
)

// ColumnType is the storage type a raw value is coerced into
type ColumnType string

const (
	TypeString    ColumnType = "string"
	TypeUUID      ColumnType = "uuid"
	TypeTimestamp ColumnType = "timestamp"
	TypeDecimal   ColumnType = "decimal"
	TypeFloat     ColumnType = "float"
	TypeInt       ColumnType = "int"
	TypeBool      ColumnType = "bool"
)

// ColumnSpec maps one external attribute onto a table column
type ColumnSpec struct {
	Alias      string
	Name       string
	Type       ColumnType
	Required   bool
	PrimaryKey bool
	MaxLength  int
}

// ColumnBuilder helps declare columns fluently
type ColumnBuilder struct {
	spec ColumnSpec
}

// Column starts a string column mapped from the external alias
func Column(alias, name string) *ColumnBuilder {
	return &ColumnBuilder{spec: ColumnSpec{Alias: alias, Name: name, Type: TypeString}}
}

// String sets the column type to string
func (b *ColumnBuilder) String() *ColumnBuilder {
	b.spec.Type = TypeString
	return b
}

// UUID sets the column type to uuid
func (b *ColumnBuilder) UUID() *ColumnBuilder {
	b.spec.Type = TypeUUID
	return b
}

// Timestamp sets the column type to timestamp
func (b *ColumnBuilder) Timestamp() *ColumnBuilder {
	b.spec.Type = TypeTimestamp
	return b
}

// Decimal sets the column type to exact decimal
func (b *ColumnBuilder) Decimal() *ColumnBuilder {
	b.spec.Type = TypeDecimal
	return b
}

// Float sets the column type to double precision
func (b *ColumnBuilder) Float() *ColumnBuilder {
	b.spec.Type = TypeFloat
	return b
}

// Int sets the column type to integer
func (b *ColumnBuilder) Int() *ColumnBuilder {
	b.spec.Type = TypeInt
	return b
}

// Bool sets the column type to boolean
func (b *ColumnBuilder) Bool() *ColumnBuilder {
	b.spec.Type = TypeBool
	return b
}

// Required marks the column as mandatory
func (b *ColumnBuilder) Required() *ColumnBuilder {
	b.spec.Required = true
	return b
}

// PrimaryKey marks the column as part of the natural key. Key columns are required.
func (b *ColumnBuilder) PrimaryKey() *ColumnBuilder {
	b.spec.PrimaryKey = true
	b.spec.Required = true
	return b
}

// MaxLength bounds string values, counted in characters
func (b *ColumnBuilder) MaxLength(n int) *ColumnBuilder {
	b.spec.MaxLength = n
	return b
}

// Build returns the built column spec
func (b *ColumnBuilder) Build() ColumnSpec {
	return b.spec
}

// EntitySchema describes how rows of one external type land in a table
type EntitySchema struct {
	TypeName     string
	Table        string
	Columns      []ColumnSpec
	ScopeColumns []string
}

// NewEntitySchema creates a schema from column builders
func NewEntitySchema(typeName, table string, columns ...*ColumnBuilder) *EntitySchema {
	s := &EntitySchema{TypeName: typeName, Table: table}
	for _, c := range columns {
		s.Columns = append(s.Columns, c.Build())
	}
	return s
}

// WithScope declares the columns identifying the rows a batch supersedes.
// Scope columns become required.
func (s *EntitySchema) WithScope(columns ...string) *EntitySchema {
	s.ScopeColumns = columns
	for i := range s.Columns {
		for _, name := range columns {
			if s.Columns[i].Name == name {
				s.Columns[i].Required = true
			}
		}
	}
	return s
}

// PrimaryKey returns the natural key column names in declaration order
func (s *EntitySchema) PrimaryKey() []string {
	var pk []string
	for _, c := range s.Columns {
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

// Scope returns the scope key columns, defaulting to the primary key
func (s *EntitySchema) Scope() []string {
	if len(s.ScopeColumns) > 0 {
		return s.ScopeColumns
	}
	return s.PrimaryKey()
}

// ColumnNames returns all mapped column names in declaration order
func (s *EntitySchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks the schema is internally consistent
func (s *EntitySchema) Validate() error {
	if s.TypeName == "" || s.Table == "" {
		return fmt.Errorf("schema needs a type name and a table")
	}
	if len(s.PrimaryKey()) == 0 {
		return fmt.Errorf("schema %s has no primary key", s.TypeName)
	}
	names := make(map[string]bool, len(s.Columns))
	aliases := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if names[c.Name] {
			return fmt.Errorf("schema %s declares column %s twice", s.TypeName, c.Name)
		}
		if aliases[c.Alias] {
			return fmt.Errorf("schema %s declares alias %s twice", s.TypeName, c.Alias)
		}
		names[c.Name] = true
		aliases[c.Alias] = true
	}
	for _, sc := range s.Scope() {
		if !names[sc] {
			return fmt.Errorf("schema %s scope column %s is not declared", s.TypeName, sc)
		}
	}
	return nil
}

// Registry resolves external type names to schemas.
// It is built once at startup and passed to the ingestion service.
type Registry struct {
	schemas map[string]*EntitySchema
}

// NewRegistry validates and indexes schemas by type name
func NewRegistry(schemas ...*EntitySchema) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*EntitySchema, len(schemas))}
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.schemas[s.TypeName]; dup {
			return nil, fmt.Errorf("type %s registered twice", s.TypeName)
		}
		r.schemas[s.TypeName] = s
	}
	return r, nil
}

// Lookup returns the schema for a type name or a METADATA_NOT_REGISTERED error
func (r *Registry) Lookup(typeName string) (*EntitySchema, error) {
	s, ok := r.schemas[typeName]
	if !ok {
		return nil, shared.NewMetadataNotRegistered(typeName)
	}
	return s, nil
}

// TypeNames lists the registered type names sorted
func (r *Registry) TypeNames() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tables lists the distinct target tables sorted
func (r *Registry) Tables() []string {
	seen := make(map[string]bool)
	var tables []string
	for _, s := range r.schemas {
		if !seen[s.Table] {
			seen[s.Table] = true
			tables = append(tables, s.Table)
		}
	}
	sort.Strings(tables)
	return tables
}
