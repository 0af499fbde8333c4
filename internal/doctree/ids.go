package doctree

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9_]`)
	slugRepeat  = regexp.MustCompile(`_+`)
)

// Slugify converts a document name into an id-safe prefix.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugInvalid.ReplaceAllString(s, "_")
	s = slugRepeat.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 50 {
		s = strings.TrimRight(s[:50], "_")
	}
	if s == "" {
		s = "doc"
	}
	return s
}

// SectionID formats the n-th section id (1-based, document order) for a
// document prefix.
func SectionID(prefix string, n int) string {
	return fmt.Sprintf("%s_h%d", prefix, n)
}

// NewDocument creates a Document with a fresh time-sortable id.
func NewDocument(name, sourcePath, documentType string) Document {
	return Document{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Name:         name,
		SourcePath:   sourcePath,
		DocumentType: documentType,
		CreatedAt:    time.Now().Unix(),
	}
}
