package study

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence interface for the study registry.
type Repository interface {
	Create(ctx context.Context, s *Study) error
	GetByID(ctx context.Context, id uuid.UUID) (*Study, error)
	GetByStudyID(ctx context.Context, studyID string) (*Study, error)
	Update(ctx context.Context, s *Study) error
	List(ctx context.Context, limit, offset int) ([]*Study, int, error)
	ListActive(ctx context.Context) ([]*Study, error)
}
