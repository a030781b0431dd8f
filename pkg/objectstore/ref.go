package objectstore

import (
	"net/url"
	"strings"
)

// RefKind tells how a stored file reference is encoded.
type RefKind int

const (
	// StoredKey is a bare object key, e.g. "task-executions/ab12_report.pdf".
	StoredKey RefKind = iota
	// LegacyURL is a full URL with the bucket as a path segment, written
	// by older releases.
	LegacyURL
)

func (k RefKind) String() string {
	if k == LegacyURL {
		return "legacy_url"
	}
	return "stored_key"
}

// Ref is a persisted file reference resolved at read time.
type Ref struct {
	Kind  RefKind
	Value string
	// FileName is the name stored next to the reference; it backs the
	// key reconstruction when a legacy URL cannot be parsed.
	FileName string
}

// ParseRef classifies filePath. An empty filePath yields the zero Ref and
// false.
func ParseRef(filePath, fileName string) (Ref, bool) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return Ref{}, false
	}
	kind := StoredKey
	if strings.HasPrefix(filePath, "http://") || strings.HasPrefix(filePath, "https://") {
		kind = LegacyURL
	}
	return Ref{Kind: kind, Value: filePath, FileName: fileName}, true
}

// keyIn extracts the object key from r for bucket. fallbackPrefix is
// prepended to FileName when a legacy URL does not name the bucket.
func (r Ref) keyIn(bucket, fallbackPrefix string) (string, bool) {
	if r.Kind == StoredKey {
		return strings.TrimPrefix(r.Value, "/"), r.Value != ""
	}

	raw := r.Value
	if u, err := url.Parse(r.Value); err == nil {
		raw = u.Path
	}
	if _, key, ok := strings.Cut(raw, "/"+bucket+"/"); ok && key != "" {
		return key, true
	}
	if r.FileName != "" {
		return fallbackPrefix + r.FileName, true
	}
	return "", false
}
