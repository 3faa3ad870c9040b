package postgres

import (
	"context"
	"fmt"
)

// truncateForTest removes all rows from the records table.
func (s *Store) truncateForTest(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE records RESTART IDENTITY"); err != nil {
		return fmt.Errorf("postgres: failed to truncate records: %w", err)
	}
	return nil
}
