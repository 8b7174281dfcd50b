package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"labcase/internal/model"
)

// Sentinel errors for the backend responses the relay branches on.
var (
	ErrNoActiveCase = errors.New("no active case")
	ErrCaseNotFound = errors.New("case not found")
	ErrCaseClosed   = errors.New("case is already closed")
)

const (
	maxRetries      = 2 // 3 attempts total
	initialInterval = time.Second
	maxInterval     = 10 * time.Second
)

// APIError is a non-2xx backend response that is not one of the sentinels.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// OpenCaseResult is the backend response to opening a case.
type OpenCaseResult struct {
	CaseID    string    `json:"case_id"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageResult is the backend response to appending a message.
type MessageResult struct {
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FileResult is the backend response to uploading a file.
type FileResult struct {
	FileID    string    `json:"file_id"`
	ObjectKey string    `json:"object_key"`
	CreatedAt time.Time `json:"created_at"`
}

// CloseSummary is the terminal summary returned when a case is closed.
type CloseSummary struct {
	CaseID   string    `json:"case_id"`
	ClosedAt time.Time `json:"closed_at"`
	Summary  struct {
		MessagesCount int `json:"messages_count"`
		FilesCount    int `json:"files_count"`
	} `json:"summary"`
}

// MessageInput is a chat message to be appended to a case.
type MessageInput struct {
	Kind              model.MessageKind
	Content           string
	TelegramMessageID int64
	TelegramUserID    int64
	TelegramChatID    int64
	Timestamp         time.Time
}

// FileInput is a downloaded chat artifact to be attached to a case. Data is
// buffered so the multipart body can be rebuilt on retry.
type FileInput struct {
	FileType          model.FileType
	Filename          string
	MimeType          string
	Data              []byte
	TelegramFileID    string
	TelegramMessageID int64
	TelegramUserID    int64
}

// Client is a typed HTTP client for the case backend. Transient failures
// (transport errors, 5xx) are retried with exponential backoff; 4xx responses
// are permanent.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New creates a Client for the backend at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// OpenCase creates a new case for the user, superseding any prior open one.
func (c *Client) OpenCase(ctx context.Context, telegramUserID, telegramChatID, telegramMessageID int64) (*OpenCaseResult, error) {
	body := map[string]any{
		"telegram_user_id":    telegramUserID,
		"telegram_chat_id":    telegramChatID,
		"telegram_message_id": telegramMessageID,
	}
	var out OpenCaseResult
	if err := c.doJSON(ctx, http.MethodPost, "/cases/open", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActiveCase fetches the user's open case. ErrNoActiveCase when there is none.
func (c *Client) ActiveCase(ctx context.Context, telegramUserID int64) (*model.Case, error) {
	var out model.Case
	path := "/cases/active?telegram_user_id=" + strconv.FormatInt(telegramUserID, 10)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddMessage appends a message to a case.
func (c *Client) AddMessage(ctx context.Context, caseID string, in MessageInput) (*MessageResult, error) {
	body := map[string]any{
		"type":    in.Kind,
		"content": in.Content,
		"telegram": map[string]any{
			"message_id": in.TelegramMessageID,
			"user_id":    in.TelegramUserID,
			"chat_id":    in.TelegramChatID,
			"timestamp":  in.Timestamp.UTC().Format(time.RFC3339),
		},
	}
	var out MessageResult
	if err := c.doJSON(ctx, http.MethodPost, "/cases/"+caseID+"/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddFile uploads an artifact to a case as multipart/form-data.
func (c *Client) AddFile(ctx context.Context, caseID string, in FileInput) (*FileResult, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", in.Filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(in.Data); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	w.WriteField("file_type", string(in.FileType))
	w.WriteField("telegram_file_id", in.TelegramFileID)
	w.WriteField("telegram_message_id", strconv.FormatInt(in.TelegramMessageID, 10))
	w.WriteField("telegram_user_id", strconv.FormatInt(in.TelegramUserID, 10))
	if in.MimeType != "" {
		w.WriteField("mime_type", in.MimeType)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}

	var out FileResult
	err = c.do(ctx, http.MethodPost, "/cases/"+caseID+"/files", buf.Bytes(), w.FormDataContentType(), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseCase closes a case with cause "user" and returns the summary.
func (c *Client) CloseCase(ctx context.Context, caseID string) (*CloseSummary, error) {
	body := map[string]any{"closed_by": model.ClosedByUser}
	var out CloseSummary
	if err := c.doJSON(ctx, http.MethodPost, "/cases/"+caseID+"/close", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}
	return c.do(ctx, method, path, payload, "application/json", out)
}

// do sends one request with retry. The raw body bytes are kept so each
// attempt gets a fresh reader.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, contentType string, out any) error {
	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return fmt.Errorf("request %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("request %s %s: backend returned %d", method, path, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(decodeError(resp))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval
	return backoff.Retry(operation, backoff.WithMaxRetries(backoff.WithContext(b, ctx), maxRetries))
}

// decodeError maps the backend's error envelope onto the sentinels.
func decodeError(resp *http.Response) error {
	var envelope errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Message: "unreadable error response"}
	}

	switch envelope.Error.Code {
	case "NO_ACTIVE_CASE":
		return ErrNoActiveCase
	case "NOT_FOUND":
		return ErrCaseNotFound
	case "CASE_CLOSED":
		return ErrCaseClosed
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
	}
}
