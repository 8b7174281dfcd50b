package repository

import (
	"context"
	"time"

	"labcase/internal/model"
)

// CaseRepository defines data access for cases and their attachments using SQL
// queries only. No business logic here — strictly persistence operations.
type CaseRepository interface {
	// CreateCase inserts a new case row. The caller provides ID, CreatedAt and
	// Status; the row is returned as stored.
	CreateCase(ctx context.Context, c *model.Case) (*model.Case, error)

	// FindCaseByID returns a case by its ID, or sql.ErrNoRows when absent.
	FindCaseByID(ctx context.Context, id string) (*model.Case, error)

	// FindActiveCaseByUserID returns the single open case for a user, or
	// sql.ErrNoRows when the user has no open case.
	FindActiveCaseByUserID(ctx context.Context, telegramUserID int64) (*model.Case, error)

	// CloseCase marks a case closed with the given cause. The update predicate
	// includes status = 'open', so a case that does not exist or is already
	// closed yields sql.ErrNoRows — a losing racer never overwrites an earlier
	// close.
	CloseCase(ctx context.Context, id string, cause model.CloseCause) (*model.Case, error)

	// FindOpenCasesOlderThan returns all open cases created before now-age.
	FindOpenCasesOlderThan(ctx context.Context, age time.Duration) ([]model.Case, error)

	// CreateMessage appends a message row to a case.
	CreateMessage(ctx context.Context, m *model.CaseMessage) (*model.CaseMessage, error)

	// CreateFile inserts a file metadata row for a case.
	CreateFile(ctx context.Context, f *model.CaseFile) (*model.CaseFile, error)

	// CountMessages returns the number of messages attached to a case.
	CountMessages(ctx context.Context, caseID string) (int, error)

	// CountFiles returns the number of files attached to a case.
	CountFiles(ctx context.Context, caseID string) (int, error)

	// ListFilesByCase returns a case's file rows ordered by creation time.
	ListFilesByCase(ctx context.Context, caseID string) ([]model.CaseFile, error)
}
