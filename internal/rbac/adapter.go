package rbac

import (
	"context"
	"errors"
	"fmt"

	casbinmodel "github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxAdapter persists casbin policy in the casbin_rules table over the shared
// connection pool. Filtered loading is not implemented; the policy set is
// small enough to load whole.
type PgxAdapter struct {
	pool *pgxpool.Pool
}

var _ persist.Adapter = (*PgxAdapter)(nil)

func NewPgxAdapter(pool *pgxpool.Pool) *PgxAdapter {
	return &PgxAdapter{pool: pool}
}

// LoadPolicy reads every stored rule into the model.
func (a *PgxAdapter) LoadPolicy(m casbinmodel.Model) error {
	ctx := context.Background()
	rows, err := a.pool.Query(ctx,
		`SELECT ptype, v0, v1, v2, v3, v4, v5 FROM casbin_rules ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ptype string
		vals := make([]string, 6)
		if err := rows.Scan(&ptype, &vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5]); err != nil {
			return fmt.Errorf("scan policy rule: %w", err)
		}
		line := []string{ptype}
		for _, v := range vals {
			if v == "" {
				break
			}
			line = append(line, v)
		}
		if err := persist.LoadPolicyArray(line, m); err != nil {
			return fmt.Errorf("apply policy rule: %w", err)
		}
	}
	return rows.Err()
}

// SavePolicy rewrites the whole table from the model.
func (a *PgxAdapter) SavePolicy(m casbinmodel.Model) error {
	ctx := context.Background()
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM casbin_rules`); err != nil {
		return fmt.Errorf("clear policy: %w", err)
	}

	var batch pgx.Batch
	for _, section := range []string{"p", "g"} {
		for ptype, ast := range m[section] {
			for _, rule := range ast.Policy {
				batch.Queue(insertRuleSQL(ptype, rule))
			}
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, &batch).Close(); err != nil {
			return fmt.Errorf("write policy: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func insertRuleSQL(ptype string, rule []string) string {
	vals := make([]string, 6)
	copy(vals, rule)
	return fmt.Sprintf(
		`INSERT INTO casbin_rules (ptype, v0, v1, v2, v3, v4, v5) VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		quote(ptype), quote(vals[0]), quote(vals[1]), quote(vals[2]),
		quote(vals[3]), quote(vals[4]), quote(vals[5]))
}

func quote(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}

// AddPolicy stores one new rule.
func (a *PgxAdapter) AddPolicy(sec, ptype string, rule []string) error {
	vals := make([]string, 6)
	copy(vals, rule)
	_, err := a.pool.Exec(context.Background(),
		`INSERT INTO casbin_rules (ptype, v0, v1, v2, v3, v4, v5) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ptype, vals[0], vals[1], vals[2], vals[3], vals[4], vals[5])
	if err != nil {
		return fmt.Errorf("add policy: %w", err)
	}
	return nil
}

// RemovePolicy deletes one rule.
func (a *PgxAdapter) RemovePolicy(sec, ptype string, rule []string) error {
	vals := make([]string, 6)
	copy(vals, rule)
	_, err := a.pool.Exec(context.Background(),
		`DELETE FROM casbin_rules
		 WHERE ptype = $1 AND v0 = $2 AND v1 = $3 AND v2 = $4 AND v3 = $5 AND v4 = $6 AND v5 = $7`,
		ptype, vals[0], vals[1], vals[2], vals[3], vals[4], vals[5])
	if err != nil {
		return fmt.Errorf("remove policy: %w", err)
	}
	return nil
}

// RemoveFilteredPolicy deletes rules matching the given field values starting
// at fieldIndex.
func (a *PgxAdapter) RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues ...string) error {
	if fieldIndex < 0 || fieldIndex+len(fieldValues) > 6 {
		return errors.New("remove filtered policy: field range out of bounds")
	}
	query := `DELETE FROM casbin_rules WHERE ptype = $1`
	args := []any{ptype}
	for i, v := range fieldValues {
		if v == "" {
			continue
		}
		args = append(args, v)
		query += fmt.Sprintf(` AND v%d = $%d`, fieldIndex+i, len(args))
	}
	if _, err := a.pool.Exec(context.Background(), query, args...); err != nil {
		return fmt.Errorf("remove filtered policy: %w", err)
	}
	return nil
}
