package exclusion

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, rule Rule) error {
	query := `INSERT INTO exclusion_rules (entity_type, entity_id)
		VALUES ($1, $2)
		ON CONFLICT (entity_type, entity_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, rule.EntityType, rule.EntityID)
	return err
}

func (r *PostgresRepo) List(ctx context.Context) ([]Rule, error) {
	query := `SELECT entity_type, entity_id, created_at FROM exclusion_rules ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.EntityType, &rule.EntityID, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exclusion_rules`).Scan(&count)
	return count, err
}
