package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"labcase/internal/model"
	"labcase/internal/repository"
	"labcase/internal/storage"
)

var (
	ErrCaseNotFound = errors.New("case not found")
	ErrCaseClosed   = errors.New("case is already closed")
)

// presignExpiry is how long file download links stay valid.
const presignExpiry = time.Hour

// AddFileInput carries an uploaded artifact and its chat-platform references.
type AddFileInput struct {
	FileType          model.FileType
	Reader            io.Reader
	Size              int64
	TelegramFileID    string
	TelegramMessageID int64
	OriginalFilename  string
	MimeType          string
}

// CloseResult is the terminal summary returned when a case is closed.
type CloseResult struct {
	Case          *model.Case `json:"case"`
	MessagesCount int         `json:"messages_count"`
	FilesCount    int         `json:"files_count"`
}

// FileLink is a case file plus a presigned download URL.
type FileLink struct {
	File model.CaseFile `json:"file"`
	URL  string         `json:"url"`
}

// CaseService defines the case lifecycle use cases exposed to the HTTP boundary.
type CaseService interface {
	// Open creates a new open case for a user. If the user already has an open
	// case it is closed with cause "auto" first, so the one-open-case-per-user
	// invariant holds at every point in between.
	Open(ctx context.Context, telegramUserID, telegramChatID int64) (*model.Case, error)

	// AddMessage appends a text/command entry to an open case.
	// Fails with ErrCaseNotFound / ErrCaseClosed.
	AddMessage(ctx context.Context, caseID string, kind model.MessageKind, content string, telegramMessageID, telegramUserID int64) (*model.CaseMessage, error)

	// AddFile stores the artifact bytes in the blob store, then persists the
	// metadata row. Fails with ErrCaseNotFound / ErrCaseClosed; a blob-store
	// failure aborts the operation before any metadata write.
	AddFile(ctx context.Context, caseID string, in AddFileInput) (*model.CaseFile, error)

	// Close transitions a case to closed and returns live message/file counts.
	// Closing a case that does not exist or is already closed fails with
	// ErrCaseNotFound (the store's conditional update matches no row).
	Close(ctx context.Context, caseID string, cause model.CloseCause) (*CloseResult, error)

	// ActiveCase returns the user's open case, or (nil, nil) when there is none.
	ActiveCase(ctx context.Context, telegramUserID int64) (*model.Case, error)

	// Files lists a case's attachments with presigned download URLs.
	Files(ctx context.Context, caseID string) ([]FileLink, error)
}

// caseService is a concrete implementation of CaseService.
type caseService struct {
	store storage.Storage
	repo  repository.CaseRepository
}

// NewCaseService constructs a new CaseService.
func NewCaseService(store storage.Storage, repo repository.CaseRepository) CaseService {
	return &caseService{store: store, repo: repo}
}

func (s *caseService) Open(ctx context.Context, telegramUserID, telegramChatID int64) (*model.Case, error) {
	existing, err := s.repo.FindActiveCaseByUserID(ctx, telegramUserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find active case: %w", err)
	}

	// Close the prior case before creating the new one, never after. If the
	// conditional update loses a race against another closer, treat the case
	// as already gone and continue.
	if existing != nil {
		if _, err := s.repo.CloseCase(ctx, existing.ID, model.ClosedByAuto); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("auto-close prior case: %w", err)
			}
		} else {
			logJSON(map[string]any{
				"component":        "case",
				"event":            "case_auto_closed",
				"case_id":          existing.ID,
				"telegram_user_id": telegramUserID,
			})
		}
	}

	c := &model.Case{
		ID:             uuid.NewString(),
		TelegramUserID: telegramUserID,
		TelegramChatID: telegramChatID,
		Status:         model.CaseOpen,
		CreatedAt:      time.Now().UTC(),
	}
	created, err := s.repo.CreateCase(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	return created, nil
}

// openCaseByID loads a case and verifies it accepts writes.
func (s *caseService) openCaseByID(ctx context.Context, caseID string) (*model.Case, error) {
	c, err := s.repo.FindCaseByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}
	if c.Status == model.CaseClosed {
		return nil, ErrCaseClosed
	}
	return c, nil
}

func (s *caseService) AddMessage(ctx context.Context, caseID string, kind model.MessageKind, content string, telegramMessageID, telegramUserID int64) (*model.CaseMessage, error) {
	if _, err := s.openCaseByID(ctx, caseID); err != nil {
		return nil, err
	}

	m := &model.CaseMessage{
		ID:                uuid.NewString(),
		CaseID:            caseID,
		Kind:              kind,
		Content:           content,
		TelegramMessageID: telegramMessageID,
		TelegramUserID:    telegramUserID,
		CreatedAt:         time.Now().UTC(),
	}
	created, err := s.repo.CreateMessage(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return created, nil
}

func (s *caseService) AddFile(ctx context.Context, caseID string, in AddFileInput) (*model.CaseFile, error) {
	if _, err := s.openCaseByID(ctx, caseID); err != nil {
		return nil, err
	}

	key := storage.ObjectKey(caseID, in.FileType, in.OriginalFilename, in.MimeType)

	contentType := in.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var metadata map[string]string
	if in.OriginalFilename != "" {
		metadata = map[string]string{"original-filename": in.OriginalFilename}
	}

	// Bytes first, metadata second: a reported storage error leaves no row
	// behind. The reverse crash window (object stored, row missing) is a known
	// limitation.
	objInfo, err := s.store.Put(ctx, key, in.Reader, storage.PutObjectOptions{
		Size:        in.Size,
		ContentType: contentType,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	f := &model.CaseFile{
		ID:                uuid.NewString(),
		CaseID:            caseID,
		FileType:          in.FileType,
		Bucket:            s.store.Bucket(),
		ObjectKey:         objInfo.Key,
		TelegramFileID:    in.TelegramFileID,
		TelegramMessageID: in.TelegramMessageID,
		CreatedAt:         time.Now().UTC(),
	}
	if in.OriginalFilename != "" {
		name := in.OriginalFilename
		f.OriginalFilename = &name
	}
	if in.Size >= 0 {
		size := in.Size
		f.SizeBytes = &size
	}
	if in.MimeType != "" {
		mt := in.MimeType
		f.MimeType = &mt
	}

	created, err := s.repo.CreateFile(ctx, f)
	if err != nil {
		// Best-effort rollback of the just-written object.
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("save file metadata: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("save file metadata: %w", err)
	}
	return created, nil
}

func (s *caseService) Close(ctx context.Context, caseID string, cause model.CloseCause) (*CloseResult, error) {
	closed, err := s.repo.CloseCase(ctx, caseID, cause)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("close case: %w", err)
	}

	// Counts are read live at close time; a late concurrent write may or may
	// not be included.
	messages, err := s.repo.CountMessages(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	files, err := s.repo.CountFiles(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}

	return &CloseResult{Case: closed, MessagesCount: messages, FilesCount: files}, nil
}

func (s *caseService) ActiveCase(ctx context.Context, telegramUserID int64) (*model.Case, error) {
	c, err := s.repo.FindActiveCaseByUserID(ctx, telegramUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (s *caseService) Files(ctx context.Context, caseID string) ([]FileLink, error) {
	if _, err := s.repo.FindCaseByID(ctx, caseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}

	files, err := s.repo.ListFilesByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	links := make([]FileLink, 0, len(files))
	for _, f := range files {
		url, err := s.store.PresignGet(ctx, f.ObjectKey, presignExpiry)
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", f.ObjectKey, err)
		}
		links = append(links, FileLink{File: f, URL: url})
	}
	return links, nil
}
