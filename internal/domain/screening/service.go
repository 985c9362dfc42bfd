package screening

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/platform/audit"
	"github.com/edc/edc/internal/platform/auth"
)

var validStatuses = map[string]bool{
	"screening": true,
	"enrolled":  true,
	"excluded":  true,
	"withdrawn": true,
	"completed": true,
}

// InputError is a caller mistake. Its message describes the submitted input
// only, so handlers may return it to the client verbatim; anything else is
// internal and must not leave the server.
type InputError struct {
	msg string
}

func (e *InputError) Error() string { return e.msg }

func inputError(format string, args ...any) error {
	return &InputError{msg: fmt.Sprintf(format, args...)}
}

// Service is the audited screening-case workflow. Every create and update
// runs through the audit coordinator so the domain write and its sealed
// audit record commit or roll back together.
type Service struct {
	repo   Repository
	coord  *audit.Coordinator
	logger zerolog.Logger
}

func NewService(repo Repository, coord *audit.Coordinator, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		coord:  coord,
		logger: logger.With().Str("component", "screening").Logger(),
	}
}

// CreateInput carries a new case submission plus its audit justification.
type CreateInput struct {
	CaseNumber    string
	Status        string
	ConsentGiven  *bool
	DateOfBirth   *time.Time
	ScreeningDate *time.Time
	Notes         *string

	Reason       string
	FieldReasons map[string]string
	SourceIP     string
}

// UpdateInput carries only the submitted fields: a nil pointer means the
// field was not part of the submission and keeps its stored value.
type UpdateInput struct {
	Status        *string
	ConsentGiven  *bool
	DateOfBirth   *time.Time
	ScreeningDate *time.Time
	Notes         *string

	Reason       string
	FieldReasons map[string]string
	SourceIP     string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*ScreeningCase, error) {
	in.CaseNumber = strings.TrimSpace(in.CaseNumber)
	if in.CaseNumber == "" {
		return nil, inputError("case_number is required")
	}
	if !validStatuses[in.Status] {
		return nil, inputError("invalid status %q", in.Status)
	}
	if _, err := s.repo.GetByCaseNumber(ctx, in.CaseNumber); err == nil {
		return nil, inputError("case %s already exists", in.CaseNumber)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	sc := &ScreeningCase{
		CaseNumber:    in.CaseNumber,
		Status:        in.Status,
		ConsentGiven:  in.ConsentGiven,
		DateOfBirth:   in.DateOfBirth,
		ScreeningDate: in.ScreeningDate,
		Notes:         in.Notes,
	}

	m := s.mutation(ctx, audit.ActionCreate, in.CaseNumber, in.Reason, in.SourceIP, in.FieldReasons)
	m.Apply = func(txCtx context.Context) (map[string]any, error) {
		if err := s.repo.Create(txCtx, sc); err != nil {
			return nil, err
		}
		return sc.FieldValues(), nil
	}

	if _, err := s.coord.Record(ctx, m); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *Service) Update(ctx context.Context, caseNumber string, in UpdateInput) (*ScreeningCase, error) {
	if in.Status != nil && !validStatuses[*in.Status] {
		return nil, inputError("invalid status %q", *in.Status)
	}

	var sc *ScreeningCase
	m := s.mutation(ctx, audit.ActionUpdate, caseNumber, in.Reason, in.SourceIP, in.FieldReasons)
	m.Snapshot = func(txCtx context.Context) (map[string]any, error) {
		var err error
		if sc, err = s.repo.GetByCaseNumberForUpdate(txCtx, caseNumber); err != nil {
			return nil, err
		}
		return sc.FieldValues(), nil
	}
	m.Apply = func(txCtx context.Context) (map[string]any, error) {
		submitted := map[string]any{}
		if in.Status != nil {
			sc.Status = *in.Status
			submitted["STATUS"] = *in.Status
		}
		if in.ConsentGiven != nil {
			sc.ConsentGiven = in.ConsentGiven
			submitted["CONSENT_GIVEN"] = *in.ConsentGiven
		}
		if in.DateOfBirth != nil {
			sc.DateOfBirth = in.DateOfBirth
			submitted["DATE_OF_BIRTH"] = *in.DateOfBirth
		}
		if in.ScreeningDate != nil {
			sc.ScreeningDate = in.ScreeningDate
			submitted["SCREENING_DATE"] = *in.ScreeningDate
		}
		if in.Notes != nil {
			sc.Notes = in.Notes
			submitted["NOTES"] = *in.Notes
		}
		if len(submitted) == 0 {
			return nil, inputError("no fields submitted")
		}
		if err := s.repo.Update(txCtx, sc); err != nil {
			return nil, err
		}
		return submitted, nil
	}

	if _, err := s.coord.Record(ctx, m); err != nil {
		return nil, err
	}
	return sc, nil
}

// Get reads a case and, because the manifest logs views, records who saw
// which values.
func (s *Service) Get(ctx context.Context, caseNumber, reason, sourceIP string) (*ScreeningCase, error) {
	var sc *ScreeningCase
	m := s.mutation(ctx, audit.ActionView, caseNumber, reason, sourceIP, nil)
	m.Snapshot = func(txCtx context.Context) (map[string]any, error) {
		var err error
		if sc, err = s.repo.GetByCaseNumber(txCtx, caseNumber); err != nil {
			return nil, err
		}
		return sc.FieldValues(), nil
	}

	if _, err := s.coord.Record(ctx, m); err != nil {
		return nil, err
	}
	return sc, nil
}

// List is an unaudited index read: it exposes no field values a later view
// of the record would not re-log.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*ScreeningCase, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) mutation(ctx context.Context, action audit.Action, subjectID, reason, sourceIP string, fieldReasons map[string]string) audit.Mutation {
	return audit.Mutation{
		EntityType:   EntityType,
		SubjectID:    subjectID,
		Action:       action,
		ActorID:      auth.ActorIDFromContext(ctx),
		ActorName:    auth.ActorNameFromContext(ctx),
		Reason:       reason,
		SourceIP:     sourceIP,
		SessionID:    auth.SessionIDFromContext(ctx),
		FieldReasons: fieldReasons,
	}
}
