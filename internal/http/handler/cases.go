package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"labcase/internal/model"
	"labcase/internal/service"
)

// openCaseRequest is the body for POST /cases/open.
type openCaseRequest struct {
	TelegramUserID    int64 `json:"telegram_user_id"`
	TelegramChatID    int64 `json:"telegram_chat_id"`
	TelegramMessageID int64 `json:"telegram_message_id"`
}

// addMessageRequest is the body for POST /cases/:id/messages. The telegram
// block carries the relay-side references of the original chat message.
type addMessageRequest struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Telegram struct {
		MessageID int64  `json:"message_id"`
		UserID    int64  `json:"user_id"`
		ChatID    int64  `json:"chat_id"`
		Timestamp string `json:"timestamp"`
	} `json:"telegram"`
}

// closeCaseRequest is the body for POST /cases/:id/close.
type closeCaseRequest struct {
	ClosedBy string `json:"closed_by"`
}

// serviceError translates the service sentinels shared by the write endpoints.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrCaseNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "case not found")
	case errors.Is(err, service.ErrCaseClosed):
		return writeError(c, fiber.StatusConflict, "CASE_CLOSED", "case is already closed")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// OpenCase handles POST /cases/open. A prior open case for the same user is
// closed with cause "auto" before the new one is created.
func OpenCase(svc service.CaseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req openCaseRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		if req.TelegramUserID <= 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_USER_ID", "telegram_user_id is required")
		}
		if req.TelegramChatID == 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_CHAT_ID", "telegram_chat_id is required")
		}

		created, err := svc.Open(c.UserContext(), req.TelegramUserID, req.TelegramChatID)
		if err != nil {
			return serviceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"case_id":    created.ID,
			"created_at": created.CreatedAt,
		})
	}
}

// AddMessage handles POST /cases/:id/messages.
func AddMessage(svc service.CaseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_CASE_ID", "invalid case id format")
		}

		var req addMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		kind := model.MessageKind(req.Type)
		if !kind.Valid() {
			return writeError(c, fiber.StatusBadRequest, "INVALID_TYPE", "type must be text or command")
		}
		if req.Content == "" {
			return writeError(c, fiber.StatusBadRequest, "CONTENT_REQUIRED", "content is required")
		}

		msg, err := svc.AddMessage(c.UserContext(), id, kind, req.Content, req.Telegram.MessageID, req.Telegram.UserID)
		if err != nil {
			return serviceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message_id": msg.ID,
			"created_at": msg.CreatedAt,
		})
	}
}

// AddFile handles POST /cases/:id/files (multipart/form-data, field name: file).
// Companion form fields carry the chat-platform references.
func AddFile(svc service.CaseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_CASE_ID", "invalid case id format")
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		fileType := model.FileType(c.FormValue("file_type"))
		if !fileType.Valid() {
			return writeError(c, fiber.StatusBadRequest, "INVALID_FILE_TYPE", "unknown file_type")
		}

		var telegramMessageID int64
		if v := c.FormValue("telegram_message_id"); v != "" {
			telegramMessageID, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_MESSAGE_ID", "invalid telegram_message_id")
			}
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		mimeType := c.FormValue("mime_type")
		if mimeType == "" {
			mimeType = fh.Header.Get("Content-Type")
		}

		created, err := svc.AddFile(c.UserContext(), id, service.AddFileInput{
			FileType:          fileType,
			Reader:            f,
			Size:              fh.Size,
			TelegramFileID:    c.FormValue("telegram_file_id"),
			TelegramMessageID: telegramMessageID,
			OriginalFilename:  fh.Filename,
			MimeType:          mimeType,
		})
		if err != nil {
			return serviceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"file_id":    created.ID,
			"object_key": created.ObjectKey,
			"created_at": created.CreatedAt,
		})
	}
}

// CloseCase handles POST /cases/:id/close. Closing an unknown or already
// closed case returns 404.
func CloseCase(svc service.CaseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_CASE_ID", "invalid case id format")
		}

		var req closeCaseRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		cause := model.CloseCause(req.ClosedBy)
		if !cause.Valid() {
			return writeError(c, fiber.StatusBadRequest, "INVALID_CLOSED_BY", "unknown closed_by cause")
		}

		res, err := svc.Close(c.UserContext(), id, cause)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{
			"case_id":   res.Case.ID,
			"closed_at": res.Case.ClosedAt,
			"summary": fiber.Map{
				"messages_count": res.MessagesCount,
				"files_count":    res.FilesCount,
			},
		})
	}
}

// GetActiveCase handles GET /cases/active?telegram_user_id=. Having no active
// case is reported as 404 with code NO_ACTIVE_CASE.
func GetActiveCase(svc service.CaseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := strconv.ParseInt(c.Query("telegram_user_id"), 10, 64)
		if err != nil || userID <= 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_USER_ID", "telegram_user_id is required")
		}

		active, err := svc.ActiveCase(c.UserContext(), userID)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		if active == nil {
			return writeError(c, fiber.StatusNotFound, "NO_ACTIVE_CASE", "no active case for user")
		}
		return c.JSON(active)
	}
}

// ListCaseFiles handles GET /cases/:id/files, returning file metadata with
// presigned download URLs.
func ListCaseFiles(svc service.CaseService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_CASE_ID", "invalid case id format")
		}

		links, err := svc.Files(c.UserContext(), id)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"files": links})
	}
}
