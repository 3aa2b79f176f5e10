package store

import (
	"context"
	"fmt"
)

// Bootstrap creates the shared tables every deployment needs: the attribute
// definition table backing dynamic entity attributes.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	return nil
}
