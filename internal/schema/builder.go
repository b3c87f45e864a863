// Package schema renders the queryable data model as a compact text catalog for prompts.
//
// Tables are Go structs implementing Table. Columns come from `db` struct tags;
// annotations come from the `schema` tag:
//
//	ID      int64     `db:"id" schema:"pk"`
//	OrderID int64     `db:"order_id" schema:"fk=sales_order"`
//	Email   string    `db:"customer_email" schema:"type=VARCHAR (email),unique"`
//	Shipped *time.Time `db:"shipped_at"`            // pointers are nullable
//
// Fields without a db tag, or tagged db:"-", are not columns.
package schema

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Table is implemented by every model that maps to a queryable table.
type Table interface {
	TableName() string
}

// Describer optionally adds a one-line description to a table.
type Describer interface {
	TableDescription() string
}

// Choice is one allowed value of an enumerated column.
type Choice struct {
	Value string
	Label string
}

// Enum is implemented by column types restricted to a fixed set of values.
type Enum interface {
	Choices() []Choice
}

var (
	tableType    = reflect.TypeOf((*Table)(nil)).Elem()
	describeType = reflect.TypeOf((*Describer)(nil)).Elem()
	enumType     = reflect.TypeOf((*Enum)(nil)).Elem()
	timeType     = reflect.TypeOf(time.Time{})
	uuidType     = reflect.TypeOf(uuid.UUID{})
)

var nullTypes = map[reflect.Type]string{
	reflect.TypeOf(sql.NullString{}):  "VARCHAR",
	reflect.TypeOf(sql.NullInt64{}):   "BIGINT",
	reflect.TypeOf(sql.NullInt32{}):   "INTEGER",
	reflect.TypeOf(sql.NullFloat64{}): "FLOAT",
	reflect.TypeOf(sql.NullBool{}):    "BOOLEAN",
	reflect.TypeOf(sql.NullTime{}):    "DATETIME",
}

// Builder describes a fixed set of models.
type Builder struct {
	models   []any
	excluded []string
}

// NewBuilder returns a Builder over models, described in the given order.
func NewBuilder(models ...any) *Builder {
	return &Builder{models: models}
}

// Exclude drops tables whose name starts with any of the prefixes.
func (b *Builder) Exclude(prefixes ...string) *Builder {
	b.excluded = append(b.excluded, prefixes...)
	return b
}

// Build renders every non-excluded table. Any malformed model fails the whole build.
func (b *Builder) Build() (string, error) {
	parts := make([]string, 0, len(b.models))
	for _, m := range b.models {
		t := reflect.TypeOf(m)
		if t == nil {
			return "", fmt.Errorf("nil model")
		}
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct {
			return "", fmt.Errorf("model %s is not a struct", t)
		}

		name, err := tableName(t)
		if err != nil {
			return "", err
		}
		if b.isExcluded(name) {
			continue
		}

		text, err := describeTable(t, name)
		if err != nil {
			return "", fmt.Errorf("describe %s: %w", name, err)
		}
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no queryable tables registered")
	}
	return strings.Join(parts, "\n\n"), nil
}

func (b *Builder) isExcluded(name string) bool {
	for _, prefix := range b.excluded {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func tableName(t reflect.Type) (string, error) {
	zero := reflect.New(t)
	if !zero.Type().Implements(tableType) {
		return "", fmt.Errorf("model %s does not implement TableName()", t)
	}
	name := strings.TrimSpace(zero.Interface().(Table).TableName())
	if name == "" {
		return "", fmt.Errorf("model %s has an empty table name", t)
	}
	return name, nil
}

func describeTable(t reflect.Type, name string) (string, error) {
	lines := []string{"Table: " + name}

	zero := reflect.New(t)
	if zero.Type().Implements(describeType) {
		if desc := strings.TrimSpace(zero.Interface().(Describer).TableDescription()); desc != "" {
			lines = append(lines, "Description: "+desc)
		}
	}

	columns, err := describeFields(t)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("no columns")
	}

	lines = append(lines, "Columns:")
	for _, column := range columns {
		lines = append(lines, "  - "+column)
	}
	return strings.Join(lines, "\n"), nil
}

func describeFields(t reflect.Type) ([]string, error) {
	var columns []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Tag.Get("db") == "" {
			embedded, err := describeFields(field.Type)
			if err != nil {
				return nil, err
			}
			columns = append(columns, embedded...)
			continue
		}
		if !field.IsExported() {
			continue
		}
		column := field.Tag.Get("db")
		if column == "" || column == "-" {
			continue
		}

		desc, err := describeColumn(column, field.Type, parseTag(field.Tag.Get("schema")))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		columns = append(columns, desc)
	}
	return columns, nil
}

type tagOptions struct {
	primaryKey bool
	nullable   bool
	unique     bool
	references string
	sqlType    string
}

func parseTag(tag string) tagOptions {
	var opts tagOptions
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "pk":
			opts.primaryKey = true
		case "nullable":
			opts.nullable = true
		case "unique":
			opts.unique = true
		case "fk":
			opts.references = value
		case "type":
			opts.sqlType = value
		}
	}
	return opts
}

func describeColumn(name string, t reflect.Type, opts tagOptions) (string, error) {
	nullable := opts.nullable
	if t.Kind() == reflect.Pointer {
		nullable = true
		t = t.Elem()
	}
	if _, ok := nullTypes[t]; ok {
		nullable = true
	}

	sqlType := opts.sqlType
	if sqlType == "" {
		base, err := inferType(t)
		if err != nil {
			return "", err
		}
		switch {
		case opts.primaryKey:
			sqlType = base + " (primary key)"
		case opts.references != "":
			sqlType = base + " (foreign key)"
		default:
			sqlType = base
		}
	}

	var extras []string
	if nullable {
		extras = append(extras, "nullable")
	}
	if opts.unique {
		extras = append(extras, "unique")
	}
	if opts.references != "" {
		extras = append(extras, fmt.Sprintf("references %s(id)", opts.references))
	}
	if t.Implements(enumType) {
		choices := reflect.Zero(t).Interface().(Enum).Choices()
		if len(choices) > 0 {
			extras = append(extras, "choices: "+renderChoices(choices))
		}
	}

	desc := fmt.Sprintf("%s (%s)", name, sqlType)
	if len(extras) > 0 {
		desc += " [" + strings.Join(extras, ", ") + "]"
	}
	return desc, nil
}

func inferType(t reflect.Type) (string, error) {
	if sqlType, ok := nullTypes[t]; ok {
		return sqlType, nil
	}
	switch t {
	case timeType:
		return "DATETIME", nil
	case uuidType:
		return "UUID", nil
	}
	switch t.Kind() {
	case reflect.String:
		return "VARCHAR", nil
	case reflect.Bool:
		return "BOOLEAN", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return "INTEGER", nil
	case reflect.Int64:
		return "BIGINT", nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INTEGER (positive)", nil
	case reflect.Float32, reflect.Float64:
		return "FLOAT", nil
	default:
		return "", fmt.Errorf("unsupported column type %s", t)
	}
}

// renderChoices keeps declaration order so the prompt text is stable.
func renderChoices(choices []Choice) string {
	pairs := make([]string, 0, len(choices))
	for _, c := range choices {
		key, _ := json.Marshal(c.Value)
		label, _ := json.Marshal(c.Label)
		pairs = append(pairs, string(key)+": "+string(label))
	}
	return "{" + strings.Join(pairs, ", ") + "}"
}
