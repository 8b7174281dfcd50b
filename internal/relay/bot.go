package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"labcase/internal/model"
	"labcase/internal/relay/activecache"
	"labcase/internal/relay/apiclient"
)

// maxDownloadBytes caps how much of a chat artifact the relay buffers before
// forwarding it to the backend. Telegram bots cannot download files over
// 20 MB anyway.
const maxDownloadBytes = 20 << 20

// Bot relays chat traffic into the case backend: commands drive the case
// lifecycle, plain messages become case messages and media becomes case files.
type Bot struct {
	api    *tgbotapi.BotAPI
	client *apiclient.Client
	cache  *activecache.Cache
	httpc  *http.Client
}

// NewBot authenticates against the chat platform and wires the backend
// client and active-case cache.
func NewBot(token string, client *apiclient.Client, cache *activecache.Cache) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authenticate bot: %w", err)
	}
	return &Bot{
		api:    api,
		client: client,
		cache:  cache,
		httpc:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Run consumes updates via long polling until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	logJSON(map[string]any{
		"component": "relay",
		"event":     "bot_started",
		"username":  b.api.Self.UserName,
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			logJSON(map[string]any{
				"component": "relay",
				"event":     "bot_stopped",
			})
			return nil
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	switch {
	case msg.IsCommand():
		b.handleCommand(ctx, msg)
	case classify(msg) != nil:
		b.handleMedia(ctx, msg)
	case msg.Text != "":
		b.handleText(ctx, msg)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.reply(msg, "Hi! I capture lab incident cases.\n"+
			"/newcase starts a case, then send me notes and photos.\n"+
			"/status shows your open case, /done closes it.")
	case "newcase":
		b.commandNewCase(ctx, msg)
	case "done":
		b.commandDone(ctx, msg)
	case "status":
		b.commandStatus(ctx, msg)
	default:
		b.reply(msg, "Unknown command. Try /newcase, /status or /done.")
	}
}

func (b *Bot) commandNewCase(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	res, err := b.client.OpenCase(ctx, userID, msg.Chat.ID, int64(msg.MessageID))
	if err != nil {
		b.replyError(msg, "open_case_failed", err)
		return
	}

	if err := b.cache.Set(ctx, userID, res.CaseID); err != nil {
		b.logCacheError("cache_set_failed", userID, err)
	}

	// The command itself becomes the case's first entry.
	_, err = b.client.AddMessage(ctx, res.CaseID, apiclient.MessageInput{
		Kind:              model.MessageCommand,
		Content:           msg.Text,
		TelegramMessageID: int64(msg.MessageID),
		TelegramUserID:    userID,
		TelegramChatID:    msg.Chat.ID,
		Timestamp:         msg.Time(),
	})
	if err != nil {
		logJSON(map[string]any{
			"component": "relay",
			"event":     "record_command_failed",
			"level":     "error",
			"case_id":   res.CaseID,
			"error":     err.Error(),
		})
	}

	b.reply(msg, "New case opened. Send me notes, photos or files; /done when finished.")
}

func (b *Bot) commandDone(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	caseID, err := b.activeCaseID(ctx, userID)
	if err != nil {
		b.replyError(msg, "resolve_active_case_failed", err)
		return
	}
	if caseID == "" {
		b.reply(msg, "You have no open case. Start one with /newcase.")
		return
	}

	summary, err := b.client.CloseCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, apiclient.ErrCaseNotFound) {
			// Closed elsewhere since we cached it; drop the stale entry.
			b.dropCacheEntry(ctx, userID)
			b.reply(msg, "Your case was already closed.")
			return
		}
		b.replyError(msg, "close_case_failed", err)
		return
	}

	b.dropCacheEntry(ctx, userID)
	b.reply(msg, fmt.Sprintf("Case closed. Recorded %d messages and %d files.",
		summary.Summary.MessagesCount, summary.Summary.FilesCount))
}

func (b *Bot) commandStatus(ctx context.Context, msg *tgbotapi.Message) {
	active, err := b.client.ActiveCase(ctx, msg.From.ID)
	if err != nil {
		if errors.Is(err, apiclient.ErrNoActiveCase) {
			b.dropCacheEntry(ctx, msg.From.ID)
			b.reply(msg, "You have no open case. Start one with /newcase.")
			return
		}
		b.replyError(msg, "status_failed", err)
		return
	}
	b.reply(msg, fmt.Sprintf("Open case %s, started %s.",
		active.ID, active.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")))
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	caseID, err := b.requireCase(ctx, msg)
	if caseID == "" || err != nil {
		return
	}

	_, err = b.client.AddMessage(ctx, caseID, apiclient.MessageInput{
		Kind:              model.MessageText,
		Content:           msg.Text,
		TelegramMessageID: int64(msg.MessageID),
		TelegramUserID:    msg.From.ID,
		TelegramChatID:    msg.Chat.ID,
		Timestamp:         msg.Time(),
	})
	if err != nil {
		b.handleAddError(ctx, msg, "add_message_failed", err)
		return
	}
	b.reply(msg, "Noted.")
}

// incomingFile is a media attachment as reported by the chat platform.
type incomingFile struct {
	fileType model.FileType
	fileID   string
	filename string
	mimeType string
}

// classify maps a chat message's media to a file type, or nil for non-media.
func classify(msg *tgbotapi.Message) *incomingFile {
	switch {
	case len(msg.Photo) > 0:
		// Sizes are ordered small to large; keep the original resolution.
		largest := msg.Photo[len(msg.Photo)-1]
		return &incomingFile{fileType: model.FileImage, fileID: largest.FileID, mimeType: "image/jpeg"}
	case msg.Document != nil:
		return &incomingFile{
			fileType: model.FileDocument,
			fileID:   msg.Document.FileID,
			filename: msg.Document.FileName,
			mimeType: msg.Document.MimeType,
		}
	case msg.Video != nil:
		return &incomingFile{
			fileType: model.FileVideo,
			fileID:   msg.Video.FileID,
			filename: msg.Video.FileName,
			mimeType: msg.Video.MimeType,
		}
	case msg.Audio != nil:
		return &incomingFile{
			fileType: model.FileAudio,
			fileID:   msg.Audio.FileID,
			filename: msg.Audio.FileName,
			mimeType: msg.Audio.MimeType,
		}
	case msg.Voice != nil:
		return &incomingFile{fileType: model.FileVoice, fileID: msg.Voice.FileID, mimeType: msg.Voice.MimeType}
	case msg.VideoNote != nil:
		return &incomingFile{fileType: model.FileVideoNote, fileID: msg.VideoNote.FileID}
	case msg.Sticker != nil:
		f := &incomingFile{fileType: model.FileSticker, fileID: msg.Sticker.FileID, mimeType: "image/webp"}
		if msg.Sticker.IsAnimated {
			f.mimeType = "application/x-tgsticker"
		} else if msg.Sticker.IsVideo {
			f.mimeType = "video/webm"
		}
		return f
	}
	return nil
}

func (b *Bot) handleMedia(ctx context.Context, msg *tgbotapi.Message) {
	caseID, err := b.requireCase(ctx, msg)
	if caseID == "" || err != nil {
		return
	}

	in := classify(msg)
	data, err := b.download(ctx, in.fileID)
	if err != nil {
		b.replyError(msg, "download_failed", err)
		return
	}

	_, err = b.client.AddFile(ctx, caseID, apiclient.FileInput{
		FileType:          in.fileType,
		Filename:          in.filename,
		MimeType:          in.mimeType,
		Data:              data,
		TelegramFileID:    in.fileID,
		TelegramMessageID: int64(msg.MessageID),
		TelegramUserID:    msg.From.ID,
	})
	if err != nil {
		b.handleAddError(ctx, msg, "add_file_failed", err)
		return
	}

	// A caption rides along as a text entry.
	if msg.Caption != "" {
		_, err := b.client.AddMessage(ctx, caseID, apiclient.MessageInput{
			Kind:              model.MessageText,
			Content:           msg.Caption,
			TelegramMessageID: int64(msg.MessageID),
			TelegramUserID:    msg.From.ID,
			TelegramChatID:    msg.Chat.ID,
			Timestamp:         msg.Time(),
		})
		if err != nil {
			b.handleAddError(ctx, msg, "add_caption_failed", err)
			return
		}
	}

	b.reply(msg, "File attached to your case.")
}

// requireCase resolves the user's open case and prompts for /newcase when
// there is none.
func (b *Bot) requireCase(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	caseID, err := b.activeCaseID(ctx, msg.From.ID)
	if err != nil {
		b.replyError(msg, "resolve_active_case_failed", err)
		return "", err
	}
	if caseID == "" {
		b.reply(msg, "You have no open case. Start one with /newcase.")
	}
	return caseID, nil
}

// activeCaseID returns the user's open case id, "" when there is none. The
// cache is consulted first; a miss falls back to the backend and repopulates it.
func (b *Bot) activeCaseID(ctx context.Context, userID int64) (string, error) {
	caseID, ok, err := b.cache.Get(ctx, userID)
	if err != nil {
		b.logCacheError("cache_get_failed", userID, err)
	} else if ok {
		return caseID, nil
	}

	active, err := b.client.ActiveCase(ctx, userID)
	if err != nil {
		if errors.Is(err, apiclient.ErrNoActiveCase) {
			return "", nil
		}
		return "", err
	}

	if err := b.cache.Set(ctx, userID, active.ID); err != nil {
		b.logCacheError("cache_set_failed", userID, err)
	}
	return active.ID, nil
}

// handleAddError deals with writes that raced the case lifecycle: a cached
// case id may point at a case that was closed or superseded meanwhile.
func (b *Bot) handleAddError(ctx context.Context, msg *tgbotapi.Message, event string, err error) {
	if errors.Is(err, apiclient.ErrCaseClosed) || errors.Is(err, apiclient.ErrCaseNotFound) {
		b.dropCacheEntry(ctx, msg.From.ID)
		b.reply(msg, "Your case is no longer open. Start a new one with /newcase.")
		return
	}
	b.replyError(msg, event, err)
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("download file: exceeds %d bytes", maxDownloadBytes)
	}
	return data, nil
}

func (b *Bot) dropCacheEntry(ctx context.Context, userID int64) {
	if err := b.cache.Remove(ctx, userID); err != nil {
		b.logCacheError("cache_remove_failed", userID, err)
	}
}

func (b *Bot) logCacheError(event string, userID int64, err error) {
	logJSON(map[string]any{
		"component":        "relay",
		"event":            event,
		"level":            "error",
		"telegram_user_id": userID,
		"error":            err.Error(),
	})
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(out); err != nil {
		logJSON(map[string]any{
			"component": "relay",
			"event":     "reply_failed",
			"level":     "error",
			"chat_id":   msg.Chat.ID,
			"error":     err.Error(),
		})
	}
}

func (b *Bot) replyError(msg *tgbotapi.Message, event string, err error) {
	logJSON(map[string]any{
		"component":        "relay",
		"event":            event,
		"level":            "error",
		"telegram_user_id": msg.From.ID,
		"error":            err.Error(),
	})
	b.reply(msg, "Something went wrong on my side, please try again.")
}
