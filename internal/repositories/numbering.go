package repositories

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
)

// nextMonthlySequence allocates the next number in a month-scoped series such
// as CASE-202608-0001. An advisory transaction lock keyed on the prefix
// serializes concurrent allocations so the count-based sequence has no gaps
// or duplicates.
func nextMonthlySequence(ctx context.Context, tx pgx.Tx, table, column, prefix string) (string, error) {
	h := fnv.New64a()
	h.Write([]byte(prefix))
	lockKey := int64(h.Sum64())

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return "", fmt.Errorf("failed to acquire numbering lock: %w", err)
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s LIKE $1`, table, column)
	var count int
	if err := tx.QueryRow(ctx, query, prefix+"%").Scan(&count); err != nil {
		return "", fmt.Errorf("failed to count %s series: %w", prefix, err)
	}

	return fmt.Sprintf("%s%04d", prefix, count+1), nil
}
