package ingestion

import (
	"path/filepath"
	"strings"
)

// CollectionSuffix is appended to names derived from a file name.
const CollectionSuffix = "_collection"

// CollectionName derives the collection for a document from its file name:
// the directory and ".pdf" extension are stripped, every space becomes an
// underscore and CollectionSuffix is appended. Names differing only in
// their spacing stay distinct.
//
//	"reports/AWS overview.pdf" → "AWS_overview_collection"
func CollectionName(path string) string {
	base := filepath.Base(strings.TrimSpace(path))
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".pdf") {
		base = strings.TrimSuffix(base, ext)
	}
	return strings.ReplaceAll(base, " ", "_") + CollectionSuffix
}

// Normalize canonicalizes unit content before embedding: lowercase, each
// line feed and carriage return replaced by a space, surrounding whitespace
// trimmed. Interior spacing is otherwise kept.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
	return strings.TrimSpace(s)
}
