package screening

import (
	"context"
)

// Repository defines the persistence interface for screening cases. All
// methods run against the study database resolved by the caller; inside an
// audited mutation they join its transaction via the context.
type Repository interface {
	Create(ctx context.Context, sc *ScreeningCase) error
	GetByCaseNumber(ctx context.Context, caseNumber string) (*ScreeningCase, error)
	// GetByCaseNumberForUpdate locks the row (SELECT ... FOR UPDATE) so the
	// snapshot feeding change detection reflects a consistent pre-mutation
	// state relative to this write.
	GetByCaseNumberForUpdate(ctx context.Context, caseNumber string) (*ScreeningCase, error)
	Update(ctx context.Context, sc *ScreeningCase) error
	List(ctx context.Context, limit, offset int) ([]*ScreeningCase, int, error)
}
