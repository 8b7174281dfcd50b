package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"labcase/internal/model"
	repoMocks "labcase/internal/repository/mocks"
	"labcase/internal/storage"
	storeMocks "labcase/internal/storage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func openCase(id string, userID int64) *model.Case {
	return &model.Case{
		ID:             id,
		TelegramUserID: userID,
		TelegramChatID: userID,
		Status:         model.CaseOpen,
		CreatedAt:      time.Now().UTC().Add(-time.Minute),
	}
}

func closedCase(id string, userID int64, cause model.CloseCause) *model.Case {
	c := openCase(id, userID)
	c.Status = model.CaseClosed
	now := time.Now().UTC()
	c.ClosedAt = &now
	c.ClosedBy = &cause
	return c
}

// echoPut returns the uploaded key back as the stored object's info.
func echoPut(ctx context.Context, key string, r io.Reader, opt storage.PutObjectOptions) storage.ObjectInfo {
	return storage.ObjectInfo{Key: key, Size: opt.Size, ContentType: opt.ContentType}
}

func TestCaseService_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("no prior case", func(t *testing.T) {
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(nil, mRepo)

		mRepo.On("FindActiveCaseByUserID", ctx, int64(7)).Return(nil, sql.ErrNoRows)
		mRepo.On("CreateCase", ctx, mock.MatchedBy(func(c *model.Case) bool {
			return c.ID != "" && c.Status == model.CaseOpen && c.TelegramUserID == 7 && c.TelegramChatID == 42
		})).Return(openCase("new-case", 7), nil)

		c, err := svc.Open(ctx, 7, 42)

		assert.NoError(t, err)
		assert.Equal(t, "new-case", c.ID)
		mRepo.AssertNotCalled(t, "CloseCase", mock.Anything, mock.Anything, mock.Anything)
		mRepo.AssertExpectations(t)
	})

	t.Run("prior open case is auto-closed first", func(t *testing.T) {
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(nil, mRepo)

		mRepo.On("FindActiveCaseByUserID", ctx, int64(7)).Return(openCase("case-a", 7), nil)
		mRepo.On("CloseCase", ctx, "case-a", model.ClosedByAuto).
			Return(closedCase("case-a", 7, model.ClosedByAuto), nil)
		mRepo.On("CreateCase", ctx, mock.Anything).Return(openCase("case-b", 7), nil)

		c, err := svc.Open(ctx, 7, 42)

		assert.NoError(t, err)
		assert.Equal(t, "case-b", c.ID)
		mRepo.AssertExpectations(t)
	})

	t.Run("prior case already closed by a racer", func(t *testing.T) {
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(nil, mRepo)

		mRepo.On("FindActiveCaseByUserID", ctx, int64(7)).Return(openCase("case-a", 7), nil)
		mRepo.On("CloseCase", ctx, "case-a", model.ClosedByAuto).Return(nil, sql.ErrNoRows)
		mRepo.On("CreateCase", ctx, mock.Anything).Return(openCase("case-b", 7), nil)

		c, err := svc.Open(ctx, 7, 42)

		assert.NoError(t, err)
		assert.Equal(t, "case-b", c.ID)
		mRepo.AssertExpectations(t)
	})

	t.Run("auto-close failure aborts the open", func(t *testing.T) {
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(nil, mRepo)

		mRepo.On("FindActiveCaseByUserID", ctx, int64(7)).Return(openCase("case-a", 7), nil)
		mRepo.On("CloseCase", ctx, "case-a", model.ClosedByAuto).Return(nil, errors.New("db fail"))

		c, err := svc.Open(ctx, 7, 42)

		assert.Error(t, err)
		assert.Nil(t, c)
		mRepo.AssertNotCalled(t, "CreateCase", mock.Anything, mock.Anything)
	})
}

func TestCaseService_AddMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(nil, mRepo)

		mRepo.On("FindCaseByID", ctx, "case-a").Return(openCase("case-a", 7), nil)
		mRepo.On("CreateMessage", ctx, mock.MatchedBy(func(m *model.CaseMessage) bool {
			return m.CaseID == "case-a" && m.Kind == model.MessageText && m.Content == "spill in bay 3"
		})).Return(&model.CaseMessage{ID: "msg-1", CaseID: "case-a"}, nil)

		msg, err := svc.AddMessage(ctx, "case-a", model.MessageText, "spill in bay 3", 100, 7)

		assert.NoError(t, err)
		assert.Equal(t, "msg-1", msg.ID)
		mRepo.AssertExpectations(t)
	})

	t.Run("unknown case", func(t *testing.T) {
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(nil, mRepo)

		mRepo.On("FindCaseByID", ctx, "nope").Return(nil, sql.ErrNoRows)

		_, err := svc.AddMessage(ctx, "nope", model.MessageText, "x", 1, 7)

		assert.ErrorIs(t, err, ErrCaseNotFound)
		mRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	})

	t.Run("closed case", func(t *testing.T) {
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(nil, mRepo)

		mRepo.On("FindCaseByID", ctx, "case-a").Return(closedCase("case-a", 7, model.ClosedByUser), nil)

		_, err := svc.AddMessage(ctx, "case-a", model.MessageText, "x", 1, 7)

		assert.ErrorIs(t, err, ErrCaseClosed)
		mRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	})
}

func TestCaseService_AddFile(t *testing.T) {
	ctx := context.Background()

	input := func() AddFileInput {
		return AddFileInput{
			FileType:          model.FileImage,
			Reader:            strings.NewReader("png bytes"),
			Size:              9,
			TelegramFileID:    "tg-file-1",
			TelegramMessageID: 100,
			OriginalFilename:  "slide.png",
			MimeType:          "image/png",
		}
	}

	t.Run("happy path", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(mStore, mRepo)

		mRepo.On("FindCaseByID", ctx, "case-a").Return(openCase("case-a", 7), nil)
		mStore.On("Put", ctx, mock.MatchedBy(func(key string) bool {
			return strings.HasPrefix(key, "cases/case-a/images/") && strings.HasSuffix(key, ".png")
		}), mock.Anything, mock.Anything).Return(echoPut, nil)
		mStore.On("Bucket").Return("lab-cases")
		mRepo.On("CreateFile", ctx, mock.MatchedBy(func(f *model.CaseFile) bool {
			return f.CaseID == "case-a" &&
				f.FileType == model.FileImage &&
				f.Bucket == "lab-cases" &&
				strings.HasPrefix(f.ObjectKey, "cases/case-a/images/") &&
				f.TelegramFileID == "tg-file-1" &&
				f.OriginalFilename != nil && *f.OriginalFilename == "slide.png" &&
				f.SizeBytes != nil && *f.SizeBytes == 9
		})).Return(&model.CaseFile{ID: "file-1", CaseID: "case-a"}, nil)

		f, err := svc.AddFile(ctx, "case-a", input())

		assert.NoError(t, err)
		assert.Equal(t, "file-1", f.ID)
		mStore.AssertExpectations(t)
		mRepo.AssertExpectations(t)
	})

	t.Run("unknown case", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(mStore, mRepo)

		mRepo.On("FindCaseByID", ctx, "nonexistent-id").Return(nil, sql.ErrNoRows)

		_, err := svc.AddFile(ctx, "nonexistent-id", input())

		assert.ErrorIs(t, err, ErrCaseNotFound)
		mStore.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("closed case", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(mStore, mRepo)

		mRepo.On("FindCaseByID", ctx, "case-a").Return(closedCase("case-a", 7, model.ClosedByTimeout), nil)

		_, err := svc.AddFile(ctx, "case-a", input())

		assert.ErrorIs(t, err, ErrCaseClosed)
		mStore.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("storage failure aborts before metadata", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(mStore, mRepo)

		mRepo.On("FindCaseByID", ctx, "case-a").Return(openCase("case-a", 7), nil)
		mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.ObjectInfo{}, errors.New("minio down"))

		_, err := svc.AddFile(ctx, "case-a", input())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "upload to storage")
		mRepo.AssertNotCalled(t, "CreateFile", mock.Anything, mock.Anything)
	})

	t.Run("metadata failure rolls back the object", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(mStore, mRepo)

		mRepo.On("FindCaseByID", ctx, "case-a").Return(openCase("case-a", 7), nil)
		mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).Return(echoPut, nil)
		mStore.On("Bucket").Return("lab-cases")
		mRepo.On("CreateFile", ctx, mock.Anything).Return(nil, errors.New("db fail"))
		mStore.On("Delete", ctx, mock.Anything).Return(nil)

		_, err := svc.AddFile(ctx, "case-a", input())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "save file metadata")
		mStore.AssertCalled(t, "Delete", ctx, mock.Anything)
	})
}

func TestCaseService_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("summary counts are read live", func(t *testing.T) {
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(nil, mRepo)

		mRepo.On("CloseCase", ctx, "case-a", model.ClosedByUser).
			Return(closedCase("case-a", 7, model.ClosedByUser), nil)
		mRepo.On("CountMessages", ctx, "case-a").Return(3, nil)
		mRepo.On("CountFiles", ctx, "case-a").Return(2, nil)

		res, err := svc.Close(ctx, "case-a", model.ClosedByUser)

		assert.NoError(t, err)
		assert.Equal(t, 3, res.MessagesCount)
		assert.Equal(t, 2, res.FilesCount)
		assert.Equal(t, model.CaseClosed, res.Case.Status)
		assert.NotNil(t, res.Case.ClosedAt)
		assert.NotNil(t, res.Case.ClosedBy)
		mRepo.AssertExpectations(t)
	})

	t.Run("double close reports not found", func(t *testing.T) {
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(nil, mRepo)

		// The conditional update matches no row once the case is closed.
		mRepo.On("CloseCase", ctx, "case-a", model.ClosedByUser).Return(nil, sql.ErrNoRows)

		res, err := svc.Close(ctx, "case-a", model.ClosedByUser)

		assert.ErrorIs(t, err, ErrCaseNotFound)
		assert.Nil(t, res)
		mRepo.AssertNotCalled(t, "CountMessages", mock.Anything, mock.Anything)
	})
}

func TestCaseService_ActiveCase(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(nil, mRepo)

		mRepo.On("FindActiveCaseByUserID", ctx, int64(7)).Return(openCase("case-a", 7), nil)

		c, err := svc.ActiveCase(ctx, 7)

		assert.NoError(t, err)
		assert.Equal(t, "case-a", c.ID)
	})

	t.Run("none is not an error", func(t *testing.T) {
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(nil, mRepo)

		mRepo.On("FindActiveCaseByUserID", ctx, int64(7)).Return(nil, sql.ErrNoRows)

		c, err := svc.ActiveCase(ctx, 7)

		assert.NoError(t, err)
		assert.Nil(t, c)
	})
}

func TestCaseService_Files(t *testing.T) {
	ctx := context.Background()

	t.Run("presigned links", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(mStore, mRepo)

		mRepo.On("FindCaseByID", ctx, "case-a").Return(openCase("case-a", 7), nil)
		mRepo.On("ListFilesByCase", ctx, "case-a").Return([]model.CaseFile{
			{ID: "file-1", ObjectKey: "cases/case-a/images/x.jpg"},
			{ID: "file-2", ObjectKey: "cases/case-a/documents/y.pdf"},
		}, nil)
		mStore.On("PresignGet", ctx, "cases/case-a/images/x.jpg", mock.Anything).
			Return("https://blob/x.jpg", nil)
		mStore.On("PresignGet", ctx, "cases/case-a/documents/y.pdf", mock.Anything).
			Return("https://blob/y.pdf", nil)

		links, err := svc.Files(ctx, "case-a")

		assert.NoError(t, err)
		assert.Len(t, links, 2)
		assert.Equal(t, "https://blob/x.jpg", links[0].URL)
	})

	t.Run("unknown case", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockCaseRepository)
		svc := NewCaseService(mStore, mRepo)

		mRepo.On("FindCaseByID", ctx, "nope").Return(nil, sql.ErrNoRows)

		_, err := svc.Files(ctx, "nope")

		assert.ErrorIs(t, err, ErrCaseNotFound)
	})
}
