package postgres

import (
	"context"
	"database/sql"
	"time"

	"labcase/internal/model"
	"labcase/internal/repository"
)

// CasePostgres is a PostgreSQL implementation of repository.CaseRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type CasePostgres struct {
	db *sql.DB
}

// NewCasePostgres creates a new CasePostgres repository.
func NewCasePostgres(db *sql.DB) *CasePostgres {
	return &CasePostgres{db: db}
}

var _ repository.CaseRepository = (*CasePostgres)(nil)

const caseColumns = `id, telegram_user_id, telegram_chat_id, status, created_at, closed_at, closed_by`

func scanCase(row interface{ Scan(...any) error }) (*model.Case, error) {
	var c model.Case
	var closedAt sql.NullTime
	var closedBy sql.NullString
	if err := row.Scan(
		&c.ID,
		&c.TelegramUserID,
		&c.TelegramChatID,
		&c.Status,
		&c.CreatedAt,
		&closedAt,
		&closedBy,
	); err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}
	if closedBy.Valid {
		cause := model.CloseCause(closedBy.String)
		c.ClosedBy = &cause
	}
	return &c, nil
}

// CreateCase inserts a new case row and returns the stored record.
func (r *CasePostgres) CreateCase(ctx context.Context, c *model.Case) (*model.Case, error) {
	const q = `
		INSERT INTO cases (id, telegram_user_id, telegram_chat_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + caseColumns
	row := r.db.QueryRowContext(ctx, q,
		c.ID,
		c.TelegramUserID,
		c.TelegramChatID,
		c.Status,
		c.CreatedAt,
	)
	return scanCase(row)
}

// FindCaseByID fetches a single case by its ID.
func (r *CasePostgres) FindCaseByID(ctx context.Context, id string) (*model.Case, error) {
	const q = `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	return scanCase(r.db.QueryRowContext(ctx, q, id))
}

// FindActiveCaseByUserID fetches the open case for a user. The partial unique
// index on (telegram_user_id) WHERE status = 'open' guarantees at most one row.
func (r *CasePostgres) FindActiveCaseByUserID(ctx context.Context, telegramUserID int64) (*model.Case, error) {
	const q = `
		SELECT ` + caseColumns + `
		FROM cases
		WHERE telegram_user_id = $1 AND status = 'open'
		ORDER BY created_at DESC
		LIMIT 1`
	return scanCase(r.db.QueryRowContext(ctx, q, telegramUserID))
}

// CloseCase transitions a case to closed. The WHERE clause requires the row to
// still be open, so a second close (or a close racing the sweep) scans zero
// rows and surfaces sql.ErrNoRows instead of rewriting closed_at.
func (r *CasePostgres) CloseCase(ctx context.Context, id string, cause model.CloseCause) (*model.Case, error) {
	const q = `
		UPDATE cases
		SET status = 'closed', closed_at = NOW(), closed_by = $2
		WHERE id = $1 AND status = 'open'
		RETURNING ` + caseColumns
	return scanCase(r.db.QueryRowContext(ctx, q, id, cause))
}

// FindOpenCasesOlderThan returns open cases created before now-age.
func (r *CasePostgres) FindOpenCasesOlderThan(ctx context.Context, age time.Duration) ([]model.Case, error) {
	const q = `
		SELECT ` + caseColumns + `
		FROM cases
		WHERE status = 'open' AND created_at < NOW() - make_interval(secs => $1)
		ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, q, age.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cases := make([]model.Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cases, nil
}

// CreateMessage appends a message row to a case.
func (r *CasePostgres) CreateMessage(ctx context.Context, m *model.CaseMessage) (*model.CaseMessage, error) {
	const q = `
		INSERT INTO case_messages (id, case_id, kind, content, telegram_message_id, telegram_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, case_id, kind, content, telegram_message_id, telegram_user_id, created_at`
	row := r.db.QueryRowContext(ctx, q,
		m.ID,
		m.CaseID,
		m.Kind,
		m.Content,
		m.TelegramMessageID,
		m.TelegramUserID,
		m.CreatedAt,
	)
	var out model.CaseMessage
	if err := row.Scan(
		&out.ID,
		&out.CaseID,
		&out.Kind,
		&out.Content,
		&out.TelegramMessageID,
		&out.TelegramUserID,
		&out.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &out, nil
}

const fileColumns = `id, case_id, file_type, storage_bucket, storage_object_key,
		original_filename, size_bytes, mime_type, telegram_file_id, telegram_message_id, created_at`

func scanFile(row interface{ Scan(...any) error }) (*model.CaseFile, error) {
	var f model.CaseFile
	var filename, mimeType sql.NullString
	var size sql.NullInt64
	if err := row.Scan(
		&f.ID,
		&f.CaseID,
		&f.FileType,
		&f.Bucket,
		&f.ObjectKey,
		&filename,
		&size,
		&mimeType,
		&f.TelegramFileID,
		&f.TelegramMessageID,
		&f.CreatedAt,
	); err != nil {
		return nil, err
	}
	if filename.Valid {
		f.OriginalFilename = &filename.String
	}
	if size.Valid {
		f.SizeBytes = &size.Int64
	}
	if mimeType.Valid {
		f.MimeType = &mimeType.String
	}
	return &f, nil
}

// CreateFile inserts a file metadata row for a case.
func (r *CasePostgres) CreateFile(ctx context.Context, f *model.CaseFile) (*model.CaseFile, error) {
	const q = `
		INSERT INTO case_files (id, case_id, file_type, storage_bucket, storage_object_key,
			original_filename, size_bytes, mime_type, telegram_file_id, telegram_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + fileColumns
	row := r.db.QueryRowContext(ctx, q,
		f.ID,
		f.CaseID,
		f.FileType,
		f.Bucket,
		f.ObjectKey,
		f.OriginalFilename,
		f.SizeBytes,
		f.MimeType,
		f.TelegramFileID,
		f.TelegramMessageID,
		f.CreatedAt,
	)
	return scanFile(row)
}

// CountMessages returns the number of messages attached to a case.
func (r *CasePostgres) CountMessages(ctx context.Context, caseID string) (int, error) {
	const q = `SELECT COUNT(*) FROM case_messages WHERE case_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, q, caseID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountFiles returns the number of files attached to a case.
func (r *CasePostgres) CountFiles(ctx context.Context, caseID string) (int, error) {
	const q = `SELECT COUNT(*) FROM case_files WHERE case_id = $1`
	var n int
	if err := r.db.QueryRowContext(ctx, q, caseID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListFilesByCase returns a case's file rows in upload order.
func (r *CasePostgres) ListFilesByCase(ctx context.Context, caseID string) ([]model.CaseFile, error) {
	const q = `SELECT ` + fileColumns + ` FROM case_files WHERE case_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, q, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make([]model.CaseFile, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}
