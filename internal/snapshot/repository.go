package snapshot

import (
	"context"
	"errors"

	"threatprint/internal/domain/models"
)

// ErrNoSnapshot is returned when the store holds no snapshot under the
// requested key
var ErrNoSnapshot = errors.New("no snapshot stored")

// Repository persists engine snapshots. Implementations must tolerate
// concurrent writers; last write wins.
type Repository interface {
	Save(ctx context.Context, key string, snap *models.Snapshot) error
	Load(ctx context.Context, key string) (*models.Snapshot, error)
	Close() error
}
