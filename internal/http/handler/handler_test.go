package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"labcase/internal/model"
	"labcase/internal/service"
	serviceMocks "labcase/internal/service/mocks"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	app := fiber.New()
	app.Get("/health", HealthCheck(db))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
	})
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOpenCase(t *testing.T) {
	mockSvc := new(serviceMocks.MockCaseService)
	app := fiber.New()
	app.Post("/cases/open", OpenCase(mockSvc))

	t.Run("success", func(t *testing.T) {
		created := &model.Case{
			ID:             uuid.New().String(),
			TelegramUserID: 7,
			TelegramChatID: 42,
			Status:         model.CaseOpen,
			CreatedAt:      time.Now().UTC(),
		}
		mockSvc.On("Open", mock.Anything, int64(7), int64(42)).Return(created, nil).Once()

		body, _ := json.Marshal(fiber.Map{
			"telegram_user_id":    7,
			"telegram_chat_id":    42,
			"telegram_message_id": 100,
		})
		req := httptest.NewRequest(http.MethodPost, "/cases/open", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, created.ID, result["case_id"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("missing user id", func(t *testing.T) {
		body, _ := json.Marshal(fiber.Map{"telegram_chat_id": 42})
		req := httptest.NewRequest(http.MethodPost, "/cases/open", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_USER_ID", res.Error.Code)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("Open", mock.Anything, int64(7), int64(42)).Return(nil, errors.New("db down")).Once()

		body, _ := json.Marshal(fiber.Map{"telegram_user_id": 7, "telegram_chat_id": 42})
		req := httptest.NewRequest(http.MethodPost, "/cases/open", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestAddMessage(t *testing.T) {
	mockSvc := new(serviceMocks.MockCaseService)
	app := fiber.New()
	app.Post("/cases/:id/messages", AddMessage(mockSvc))

	caseID := uuid.New().String()

	postMessage := func(id string, body fiber.Map) *http.Response {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/cases/"+id+"/messages", bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		return resp
	}

	t.Run("success", func(t *testing.T) {
		msg := &model.CaseMessage{ID: uuid.New().String(), CaseID: caseID, CreatedAt: time.Now().UTC()}
		mockSvc.On("AddMessage", mock.Anything, caseID, model.MessageText, "spill in bay 3", int64(100), int64(7)).
			Return(msg, nil).Once()

		resp := postMessage(caseID, fiber.Map{
			"type":    "text",
			"content": "spill in bay 3",
			"telegram": fiber.Map{
				"message_id": 100,
				"user_id":    7,
				"chat_id":    42,
				"timestamp":  time.Now().UTC().Format(time.RFC3339),
			},
		})

		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, msg.ID, result["message_id"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid case id", func(t *testing.T) {
		resp := postMessage("not-a-uuid", fiber.Map{"type": "text", "content": "x"})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_CASE_ID", res.Error.Code)
	})

	t.Run("unknown type", func(t *testing.T) {
		resp := postMessage(caseID, fiber.Map{"type": "sticker", "content": "x"})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_TYPE", res.Error.Code)
	})

	t.Run("case not found", func(t *testing.T) {
		mockSvc.On("AddMessage", mock.Anything, caseID, model.MessageText, "x", mock.Anything, mock.Anything).
			Return(nil, service.ErrCaseNotFound).Once()

		resp := postMessage(caseID, fiber.Map{"type": "text", "content": "x"})

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Error.Code)
	})

	t.Run("case closed", func(t *testing.T) {
		mockSvc.On("AddMessage", mock.Anything, caseID, model.MessageText, "x", mock.Anything, mock.Anything).
			Return(nil, service.ErrCaseClosed).Once()

		resp := postMessage(caseID, fiber.Map{"type": "text", "content": "x"})

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "CASE_CLOSED", res.Error.Code)
	})
}

func TestAddFile(t *testing.T) {
	mockSvc := new(serviceMocks.MockCaseService)
	app := fiber.New()
	app.Post("/cases/:id/files", AddFile(mockSvc))

	caseID := uuid.New().String()

	multipartBody := func(fields map[string]string) (*bytes.Buffer, string) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, _ := writer.CreateFormFile("file", "slide.png")
		part.Write([]byte("png bytes"))
		for k, v := range fields {
			writer.WriteField(k, v)
		}
		writer.Close()
		return body, writer.FormDataContentType()
	}

	t.Run("success", func(t *testing.T) {
		created := &model.CaseFile{
			ID:        uuid.New().String(),
			CaseID:    caseID,
			ObjectKey: "cases/" + caseID + "/images/abc.png",
			CreatedAt: time.Now().UTC(),
		}
		mockSvc.On("AddFile", mock.Anything, caseID, mock.MatchedBy(func(in service.AddFileInput) bool {
			return in.FileType == model.FileImage &&
				in.OriginalFilename == "slide.png" &&
				in.TelegramFileID == "tg-file-1" &&
				in.TelegramMessageID == 100
		})).Return(created, nil).Once()

		body, contentType := multipartBody(map[string]string{
			"file_type":           "image",
			"telegram_file_id":    "tg-file-1",
			"telegram_message_id": "100",
			"telegram_user_id":    "7",
			"mime_type":           "image/png",
		})
		req := httptest.NewRequest(http.MethodPost, "/cases/"+caseID+"/files", body)
		req.Header.Set("Content-Type", contentType)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, created.ID, result["file_id"])
		assert.Equal(t, created.ObjectKey, result["object_key"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("no file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/cases/"+caseID+"/files", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "FILE_REQUIRED", res.Error.Code)
	})

	t.Run("unknown file type", func(t *testing.T) {
		body, contentType := multipartBody(map[string]string{"file_type": "hologram"})
		req := httptest.NewRequest(http.MethodPost, "/cases/"+caseID+"/files", body)
		req.Header.Set("Content-Type", contentType)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_FILE_TYPE", res.Error.Code)
	})

	t.Run("case closed", func(t *testing.T) {
		mockSvc.On("AddFile", mock.Anything, caseID, mock.Anything).
			Return(nil, service.ErrCaseClosed).Once()

		body, contentType := multipartBody(map[string]string{"file_type": "image"})
		req := httptest.NewRequest(http.MethodPost, "/cases/"+caseID+"/files", body)
		req.Header.Set("Content-Type", contentType)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestCloseCase(t *testing.T) {
	mockSvc := new(serviceMocks.MockCaseService)
	app := fiber.New()
	app.Post("/cases/:id/close", CloseCase(mockSvc))

	caseID := uuid.New().String()

	postClose := func(id, cause string) *http.Response {
		b, _ := json.Marshal(fiber.Map{"closed_by": cause})
		req := httptest.NewRequest(http.MethodPost, "/cases/"+id+"/close", bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		return resp
	}

	t.Run("success with summary", func(t *testing.T) {
		closedAt := time.Now().UTC()
		cause := model.ClosedByUser
		res := &service.CloseResult{
			Case: &model.Case{
				ID:       caseID,
				Status:   model.CaseClosed,
				ClosedAt: &closedAt,
				ClosedBy: &cause,
			},
			MessagesCount: 3,
			FilesCount:    2,
		}
		mockSvc.On("Close", mock.Anything, caseID, model.ClosedByUser).Return(res, nil).Once()

		resp := postClose(caseID, "user")

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			CaseID  string `json:"case_id"`
			Summary struct {
				MessagesCount int `json:"messages_count"`
				FilesCount    int `json:"files_count"`
			} `json:"summary"`
		}
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, caseID, result.CaseID)
		assert.Equal(t, 3, result.Summary.MessagesCount)
		assert.Equal(t, 2, result.Summary.FilesCount)
		mockSvc.AssertExpectations(t)
	})

	t.Run("unknown cause", func(t *testing.T) {
		resp := postClose(caseID, "gremlins")

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_CLOSED_BY", res.Error.Code)
	})

	t.Run("already closed reports not found", func(t *testing.T) {
		mockSvc.On("Close", mock.Anything, caseID, model.ClosedByUser).
			Return(nil, service.ErrCaseNotFound).Once()

		resp := postClose(caseID, "user")

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Error.Code)
		mockSvc.AssertExpectations(t)
	})
}

func TestGetActiveCase(t *testing.T) {
	mockSvc := new(serviceMocks.MockCaseService)
	app := fiber.New()
	app.Get("/cases/active", GetActiveCase(mockSvc))

	t.Run("found", func(t *testing.T) {
		active := &model.Case{ID: uuid.New().String(), TelegramUserID: 7, Status: model.CaseOpen}
		mockSvc.On("ActiveCase", mock.Anything, int64(7)).Return(active, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/cases/active?telegram_user_id=7", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result model.Case
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, active.ID, result.ID)
		mockSvc.AssertExpectations(t)
	})

	t.Run("none", func(t *testing.T) {
		mockSvc.On("ActiveCase", mock.Anything, int64(7)).Return(nil, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/cases/active?telegram_user_id=7", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NO_ACTIVE_CASE", res.Error.Code)
	})

	t.Run("missing user id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/cases/active", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestListCaseFiles(t *testing.T) {
	mockSvc := new(serviceMocks.MockCaseService)
	app := fiber.New()
	app.Get("/cases/:id/files", ListCaseFiles(mockSvc))

	caseID := uuid.New().String()

	t.Run("success", func(t *testing.T) {
		links := []service.FileLink{
			{File: model.CaseFile{ID: "file-1", ObjectKey: "cases/" + caseID + "/images/x.jpg"}, URL: "https://blob/x.jpg"},
		}
		mockSvc.On("Files", mock.Anything, caseID).Return(links, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/cases/"+caseID+"/files", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Files []service.FileLink `json:"files"`
		}
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Len(t, result.Files, 1)
		assert.Equal(t, "https://blob/x.jpg", result.Files[0].URL)
		mockSvc.AssertExpectations(t)
	})

	t.Run("case not found", func(t *testing.T) {
		mockSvc.On("Files", mock.Anything, caseID).Return(nil, service.ErrCaseNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/cases/"+caseID+"/files", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}
