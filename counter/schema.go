package counter

import (
	"regexp"

	"github.com/pkg/errors"
)

// Account counter fields
const (
	FollowersCount = "followers_count"
	FollowingCount = "following_count"
	StatusesCount  = "statuses_count"
)

var fieldNameRegexp = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// FieldDef define a counter field
type FieldDef struct {
	Name    string
	Default int64
	Desc    string
	// Touch is the timestamp column updated when the field is increased,empty means none
	Touch string
}

// Schema is the static registry of counter fields,it is immutable after created
type Schema struct {
	defs  map[string]FieldDef
	names []string
}

// NewSchema create Schema with defs,the names must be unique lower case identifiers
func NewSchema(defs ...FieldDef) (*Schema, error) {
	if len(defs) == 0 {
		return nil, errors.New("no counter field")
	}
	schema := &Schema{defs: make(map[string]FieldDef, len(defs))}
	for _, def := range defs {
		if !fieldNameRegexp.MatchString(def.Name) {
			return nil, errors.Errorf("invalid counter field name %q", def.Name)
		}
		if def.Touch != "" && !fieldNameRegexp.MatchString(def.Touch) {
			return nil, errors.Errorf("invalid touch column %q of %s", def.Touch, def.Name)
		}
		if _, ok := schema.defs[def.Name]; ok {
			return nil, errors.Errorf("duplicate counter field %s", def.Name)
		}
		schema.defs[def.Name] = def
		schema.names = append(schema.names, def.Name)
	}
	return schema, nil
}

// MustNewSchema create Schema,panic if defs is invalid
func MustNewSchema(defs ...FieldDef) *Schema {
	schema, err := NewSchema(defs...)
	if err != nil {
		panic(err)
	}
	return schema
}

// AccountSchema is the counters of an account
var AccountSchema = MustNewSchema(
	FieldDef{Name: FollowersCount, Desc: "accounts following this account"},
	FieldDef{Name: FollowingCount, Desc: "accounts followed by this account"},
	FieldDef{Name: StatusesCount, Desc: "statuses posted by this account", Touch: "last_status_at"},
)

// Lookup the def of name
func (p *Schema) Lookup(name string) (FieldDef, error) {
	def, ok := p.defs[name]
	if !ok {
		return FieldDef{}, errors.Wrapf(ErrInvalidField, "field %q", name)
	}
	return def, nil
}

// Names return field names in registration order
func (p *Schema) Names() []string {
	return append([]string(nil), p.names...)
}

// ZeroFields return the default value of all fields
func (p *Schema) ZeroFields() Fields {
	fields := make(Fields, len(p.names))
	for _, name := range p.names {
		fields[name] = p.defs[name].Default
	}
	return fields
}

// Validate check all the names of fields are registered
func (p *Schema) Validate(fields Fields) error {
	for name := range fields {
		if _, err := p.Lookup(name); err != nil {
			return err
		}
	}
	return nil
}

// Complete return fields with the missing fields filled by default
func (p *Schema) Complete(fields Fields) (Fields, error) {
	if err := p.Validate(fields); err != nil {
		return nil, err
	}
	completed := p.ZeroFields()
	for k, v := range fields {
		completed[k] = v
	}
	return completed, nil
}
