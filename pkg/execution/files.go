package execution

import (
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"taskflow/pkg/fault"
)

// MaxFileSize is the largest accepted upload, inclusive.
const MaxFileSize int64 = 100 << 20

// KeyPrefix namespaces execution files inside the bucket.
const KeyPrefix = "task-executions/"

// SniffLen is how many leading bytes content detection looks at.
const SniffLen = 3072

var allowedExtensions = map[string]bool{
	"txt": true, "pdf": true, "doc": true, "docx": true,
	"xls": true, "xlsx": true, "csv": true, "exl": true,
}

var allowedMIME = []string{
	"text/plain",
	"text/csv",
	"application/csv",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-excel.sheet.macroEnabled.12",
	// Legacy Office files the detector cannot narrow further.
	"application/x-ole-storage",
}

// FileMeta describes an accepted upload.
type FileMeta struct {
	Name        string // client's base name
	Ext         string // lower-case, without the dot
	ContentType string
}

// ValidateFile applies the upload policy: the extension must be allowed,
// size must not exceed MaxFileSize, and content sniffed from head must not
// contradict the allowed types. Generic or unknown content passes.
func ValidateFile(name string, size int64, head []byte) (*FileMeta, error) {
	base := baseName(name)
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(base), "."))
	if base == "" || !allowedExtensions[ext] {
		return nil, fault.New(fault.Validation, "Invalid file type. Allowed: .txt, .pdf, .doc, .docx, .xls, .xlsx, .csv")
	}
	if size > MaxFileSize {
		return nil, fault.New(fault.FileTooLarge, "File too large. Max 100MB allowed.")
	}

	contentType := "application/octet-stream"
	if len(head) > 0 {
		detected := mimetype.Detect(head)
		if !detected.Is("application/octet-stream") {
			if !mimeAllowed(detected) {
				return nil, fault.New(fault.InvalidContentType, "Invalid file content type.")
			}
			contentType = detected.String()
		}
	}
	return &FileMeta{Name: base, Ext: ext, ContentType: contentType}, nil
}

func mimeAllowed(m *mimetype.MIME) bool {
	for _, allowed := range allowedMIME {
		if m.Is(allowed) {
			return true
		}
	}
	return false
}

// ObjectKey derives a collision-free key for meta:
// task-executions/<32 hex>_<sanitized base>.<ext>.
func ObjectKey(meta *FileMeta) string {
	stem := strings.TrimSuffix(meta.Name, path.Ext(meta.Name))
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return KeyPrefix + token + "_" + sanitize(stem) + "." + meta.Ext
}

// sanitize replaces every character outside [A-Za-z0-9_-] with '_'.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

// baseName strips any client-supplied directory, Windows separators
// included.
func baseName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
