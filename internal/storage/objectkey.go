package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"labcase/internal/model"
)

// mimeExtensions maps the MIME types commonly reported by the chat platform to
// a file extension. application/x-tgsticker is the platform's animated sticker
// format.
var mimeExtensions = map[string]string{
	"image/jpeg":              ".jpg",
	"image/png":               ".png",
	"image/gif":               ".gif",
	"image/webp":              ".webp",
	"video/mp4":               ".mp4",
	"video/quicktime":         ".mov",
	"video/webm":              ".webm",
	"audio/mpeg":              ".mp3",
	"audio/mp4":               ".m4a",
	"audio/ogg":               ".ogg",
	"audio/x-wav":             ".wav",
	"application/pdf":         ".pdf",
	"application/zip":         ".zip",
	"text/plain":              ".txt",
	"application/x-tgsticker": ".tgs",
}

// typeDefaults is the last-resort extension per logical file type. Voice notes,
// video notes and stickers never carry a filename upstream, so without this
// fallback their objects would land extensionless and break downstream viewers.
var typeDefaults = map[model.FileType]string{
	model.FileImage:     ".jpg",
	model.FileVideo:     ".mp4",
	model.FileVideoNote: ".mp4",
	model.FileAudio:     ".mp3",
	model.FileVoice:     ".ogg",
	model.FileSticker:   ".webp",
	model.FileDocument:  ".pdf",
}

// Extension resolves the file extension for an uploaded artifact.
// Resolution order: the filename's own extension verbatim (no case folding),
// then the MIME table, then the per-type default, then empty.
func Extension(filename, mimeType string, fileType model.FileType) string {
	if ext := path.Ext(filename); ext != "" && ext != "." {
		return ext
	}
	if ext, ok := mimeExtensions[normalizeMime(mimeType)]; ok {
		return ext
	}
	if ext, ok := typeDefaults[fileType]; ok {
		return ext
	}
	return ""
}

// ObjectKey derives the storage key for a new artifact:
//
//	cases/<case_id>/<file_type>s/<random-uuid><ext>
//
// The random token makes keys globally unique without any coordination or
// existence check; the case id and pluralized type segment keep the bucket
// auditable by prefix.
func ObjectKey(caseID string, fileType model.FileType, filename, mimeType string) string {
	ext := Extension(filename, mimeType, fileType)
	return fmt.Sprintf("cases/%s/%ss/%s%s", caseID, fileType, uuid.NewString(), ext)
}

// normalizeMime strips parameters ("audio/ogg; codecs=opus" -> "audio/ogg")
// and lowercases the type for table lookup.
func normalizeMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
