package counter

import (
	"context"
	"fmt"

	c "github.com/d0ngw/counters/common"
	"github.com/d0ngw/counters/orm"
	"github.com/pkg/errors"
)

// Source supply the authoritative value of a counter
type Source interface {
	// Count the related records of the field of entityID
	Count(ctx context.Context, entityID, field string) (int64, error)
}

// SourceRule define how to count a field from the related rows:
// SELECT COUNT(*) FROM Table WHERE Column = ? [AND Where]
type SourceRule struct {
	Field  string `yaml:"field"`
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
	Where  string `yaml:"where"`
}

// Parse implements Configurer
func (p *SourceRule) Parse() error {
	if !identRegexp.MatchString(p.Table) || !identRegexp.MatchString(p.Column) {
		return errors.Errorf("invalid source rule of %s,table:%q,column:%q", p.Field, p.Table, p.Column)
	}
	return nil
}

func (p *SourceRule) query() string {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", quote(p.Table), quote(p.Column))
	if p.Where != "" {
		query += " AND (" + p.Where + ")"
	}
	return query
}

// AccountSourceRules count the account counters from the follows and statuses tables
func AccountSourceRules() []SourceRule {
	return []SourceRule{
		{Field: FollowersCount, Table: "follows", Column: "target_account_id"},
		{Field: FollowingCount, Table: "follows", Column: "account_id"},
		{Field: StatusesCount, Table: "statuses", Column: "account_id", Where: "deleted_at IS NULL"},
	}
}

// SQLSource count the related rows in the database
type SQLSource struct {
	db    orm.OpCreator
	rules map[string]SourceRule
}

// NewSQLSource create SQLSource,every field of rules must be registered in schema
func NewSQLSource(db orm.OpCreator, schema *Schema, rules ...SourceRule) (*SQLSource, error) {
	if c.HasNil(db, schema) {
		return nil, errors.New("db and schema must be set")
	}
	source := &SQLSource{db: db, rules: map[string]SourceRule{}}
	for _, rule := range rules {
		if _, err := schema.Lookup(rule.Field); err != nil {
			return nil, err
		}
		if err := rule.Parse(); err != nil {
			return nil, err
		}
		if _, ok := source.rules[rule.Field]; ok {
			return nil, errors.Errorf("duplicate source rule of %s", rule.Field)
		}
		source.rules[rule.Field] = rule
	}
	return source, nil
}

// Count implements Source.Count
func (p *SQLSource) Count(ctx context.Context, entityID, field string) (int64, error) {
	rule, ok := p.rules[field]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidField, "no source rule of %q", field)
	}
	op, err := p.db.NewOp()
	if err != nil {
		return 0, err
	}
	v, _, err := op.QueryInt64(ctx, rule.query(), entityID)
	if err != nil {
		return 0, errors.Wrapf(err, "count %s of %s", field, entityID)
	}
	return v, nil
}
