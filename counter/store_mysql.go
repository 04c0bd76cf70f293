package counter

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	c "github.com/d0ngw/counters/common"
	"github.com/d0ngw/counters/orm"
	"github.com/pkg/errors"
)

var identRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quote(ident string) string {
	return "`" + ident + "`"
}

// MySQLStore keeps the counters as the columns of the entity's row.
// Add uses INSERT ... ON DUPLICATE KEY UPDATE col = col + ?,the row lock is held only by that statement and the following SELECT.
type MySQLStore struct {
	db       orm.OpCreator
	schema   *Schema
	table    string
	idColumn string
}

// NewMySQLStore create MySQLStore,every field of schema is a BIGINT column of table
func NewMySQLStore(db orm.OpCreator, schema *Schema, table, idColumn string) (*MySQLStore, error) {
	if c.HasNil(db, schema) {
		return nil, errors.New("db and schema must be set")
	}
	if !identRegexp.MatchString(table) || !identRegexp.MatchString(idColumn) {
		return nil, errors.Errorf("invalid table %q or id column %q", table, idColumn)
	}
	return &MySQLStore{db: db, schema: schema, table: table, idColumn: idColumn}, nil
}

// DDL return the CREATE TABLE statement of the counter table
func (p *MySQLStore) DDL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quote(p.table))
	fmt.Fprintf(&b, "  %s VARCHAR(64) NOT NULL,\n", quote(p.idColumn))
	touched := map[string]bool{}
	for _, name := range p.schema.Names() {
		def, _ := p.schema.Lookup(name)
		fmt.Fprintf(&b, "  %s BIGINT NOT NULL DEFAULT %d,\n", quote(name), def.Default)
		if def.Touch != "" && !touched[def.Touch] {
			touched[def.Touch] = true
			fmt.Fprintf(&b, "  %s DATETIME NULL,\n", quote(def.Touch))
		}
	}
	fmt.Fprintf(&b, "  PRIMARY KEY (%s)\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", quote(p.idColumn))
	return b.String()
}

// Add implements Store.Add
func (p *MySQLStore) Add(ctx context.Context, entityID, field string, delta int64) (int64, error) {
	def, err := p.schema.Lookup(field)
	if err != nil {
		return 0, err
	}
	op, err := p.db.NewOp()
	if err != nil {
		return 0, err
	}

	columns := []string{quote(p.idColumn), quote(field)}
	args := []interface{}{entityID, def.Default + delta}
	updates := []string{fmt.Sprintf("%s = %s + ?", quote(field), quote(field))}
	updateArgs := []interface{}{delta}
	if def.Touch != "" && delta > 0 {
		now := time.Now()
		columns = append(columns, quote(def.Touch))
		args = append(args, now)
		updates = append(updates, quote(def.Touch)+" = ?")
		updateArgs = append(updateArgs, now)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		quote(p.table), strings.Join(columns, ", "), placeholders(len(columns)), strings.Join(updates, ", "))
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", quote(field), quote(p.table), quote(p.idColumn))

	rt, err := op.DoInTrans(ctx, func(tx *sql.Tx) (interface{}, error) {
		if _, err := tx.ExecContext(ctx, insert, append(args, updateArgs...)...); err != nil {
			return nil, err
		}
		var v int64
		if err := tx.QueryRowContext(ctx, query, entityID).Scan(&v); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "add %s.%s", p.table, field)
	}
	return rt.(int64), nil
}

// Get implements Store.Get
func (p *MySQLStore) Get(ctx context.Context, entityID, field string) (int64, error) {
	def, err := p.schema.Lookup(field)
	if err != nil {
		return 0, err
	}
	op, err := p.db.NewOp()
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", quote(field), quote(p.table), quote(p.idColumn))
	v, found, err := op.QueryInt64(ctx, query, entityID)
	if err != nil {
		return 0, errors.Wrapf(err, "get %s.%s", p.table, field)
	}
	if !found {
		return def.Default, nil
	}
	return v, nil
}

// Set implements Store.Set
func (p *MySQLStore) Set(ctx context.Context, entityID, field string, value int64) error {
	if _, err := p.schema.Lookup(field); err != nil {
		return err
	}
	op, err := p.db.NewOp()
	if err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?) ON DUPLICATE KEY UPDATE %s = ?",
		quote(p.table), quote(p.idColumn), quote(field), quote(field))
	_, err = op.Exec(ctx, query, entityID, value, value)
	return errors.Wrapf(err, "set %s.%s", p.table, field)
}

// Create implements Store.Create
func (p *MySQLStore) Create(ctx context.Context, entityID string, fields Fields) error {
	return p.Store(ctx, entityID, fields)
}

// Delete implements Store.Delete
func (p *MySQLStore) Delete(ctx context.Context, entityID string) error {
	_, err := p.Del(ctx, entityID)
	return err
}

// Load implements Persist.Load
func (p *MySQLStore) Load(ctx context.Context, counterID string) (Fields, error) {
	op, err := p.db.NewOp()
	if err != nil {
		return nil, err
	}
	names := p.schema.Names()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", quoteAll(names), quote(p.table), quote(p.idColumn))
	values := make([]int64, len(names))
	dest := make([]interface{}, len(names))
	for i := range values {
		dest[i] = &values[i]
	}
	err = op.QueryRow(ctx, query, counterID).Scan(dest...)
	if err == sql.ErrNoRows {
		return p.schema.ZeroFields(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s %s", p.table, counterID)
	}
	fields := make(Fields, len(names))
	for i, name := range names {
		fields[name] = values[i]
	}
	return fields, nil
}

// Store implements Persist.Store,the fields not given are reset to default
func (p *MySQLStore) Store(ctx context.Context, counterID string, fields Fields) error {
	completed, err := p.schema.Complete(fields)
	if err != nil {
		return err
	}
	op, err := p.db.NewOp()
	if err != nil {
		return err
	}
	names := p.schema.Names()
	args := make([]interface{}, 0, len(names)*2+1)
	args = append(args, counterID)
	updates := make([]string, 0, len(names))
	for _, name := range names {
		args = append(args, completed[name])
	}
	for _, name := range names {
		updates = append(updates, quote(name)+" = ?")
		args = append(args, completed[name])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		quote(p.table), quote(p.idColumn), quoteAll(names), placeholders(len(names)+1), strings.Join(updates, ", "))
	_, err = op.Exec(ctx, query, args...)
	return errors.Wrapf(err, "store %s %s", p.table, counterID)
}

// Del implements Persist.Del
func (p *MySQLStore) Del(ctx context.Context, counterID string) (bool, error) {
	op, err := p.db.NewOp()
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(p.table), quote(p.idColumn))
	result, err := op.Exec(ctx, query, counterID)
	if err != nil {
		return false, errors.Wrapf(err, "delete %s %s", p.table, counterID)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func quoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, ident := range idents {
		quoted[i] = quote(ident)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
