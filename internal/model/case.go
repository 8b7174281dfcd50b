package model

import "time"

// CaseStatus is the lifecycle state of a case. The only transition is
// open -> closed; closed is terminal.
type CaseStatus string

const (
	CaseOpen   CaseStatus = "open"
	CaseClosed CaseStatus = "closed"
)

// CloseCause records who or what closed a case.
type CloseCause string

const (
	ClosedByUser    CloseCause = "user"
	ClosedByAdmin   CloseCause = "admin"
	ClosedByTimeout CloseCause = "timeout"
	ClosedByAuto    CloseCause = "auto"
)

// Valid reports whether c is one of the four known close causes.
func (c CloseCause) Valid() bool {
	switch c {
	case ClosedByUser, ClosedByAdmin, ClosedByTimeout, ClosedByAuto:
		return true
	}
	return false
}

// MessageKind distinguishes free-form notes from bot commands echoed into a case.
type MessageKind string

const (
	MessageText    MessageKind = "text"
	MessageCommand MessageKind = "command"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	return k == MessageText || k == MessageCommand
}

// FileType is the logical media kind of an attached file, as reported by the
// chat platform. It drives the object-key segment and the extension fallback.
type FileType string

const (
	FileImage     FileType = "image"
	FileDocument  FileType = "document"
	FileVideo     FileType = "video"
	FileAudio     FileType = "audio"
	FileVoice     FileType = "voice"
	FileVideoNote FileType = "video_note"
	FileSticker   FileType = "sticker"
)

// Valid reports whether t is a known file type.
func (t FileType) Valid() bool {
	switch t {
	case FileImage, FileDocument, FileVideo, FileAudio, FileVoice, FileVideoNote, FileSticker:
		return true
	}
	return false
}

// Case is a lab incident record owned by a single chat user.
// This is a pure domain model with no database-specific dependencies or tags.
// ClosedAt and ClosedBy are both nil while the case is open and both set once
// it is closed; partial states never occur.
type Case struct {
	ID             string      `json:"id"`
	TelegramUserID int64       `json:"telegram_user_id"`
	TelegramChatID int64       `json:"telegram_chat_id"`
	Status         CaseStatus  `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	ClosedAt       *time.Time  `json:"closed_at,omitempty"`
	ClosedBy       *CloseCause `json:"closed_by,omitempty"`
}

// CaseMessage is a single text or command entry appended to an open case.
// Messages are immutable once created and are never deleted.
type CaseMessage struct {
	ID                string      `json:"id"`
	CaseID            string      `json:"case_id"`
	Kind              MessageKind `json:"kind"`
	Content           string      `json:"content"`
	TelegramMessageID int64       `json:"telegram_message_id"`
	TelegramUserID    int64       `json:"telegram_user_id"`
	CreatedAt         time.Time   `json:"created_at"`
}

// CaseFile is the metadata row for a media artifact stored in the blob store.
// ObjectKey is globally unique and encodes the case id and file type.
type CaseFile struct {
	ID                string    `json:"id"`
	CaseID            string    `json:"case_id"`
	FileType          FileType  `json:"file_type"`
	Bucket            string    `json:"storage_bucket"`
	ObjectKey         string    `json:"storage_object_key"`
	OriginalFilename  *string   `json:"original_filename,omitempty"`
	SizeBytes         *int64    `json:"size_bytes,omitempty"`
	MimeType          *string   `json:"mime_type,omitempty"`
	TelegramFileID    string    `json:"telegram_file_id"`
	TelegramMessageID int64     `json:"telegram_message_id"`
	CreatedAt         time.Time `json:"created_at"`
}
