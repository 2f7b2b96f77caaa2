package engine

import (
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyBuilder turns a local file path into an object key. The pattern names
// the final path segment and understands three tokens:
//
//	{filename}   the source file's base name
//	{timestamp}  the submission time as 20060102-150405
//	{uuid}       a fresh random id
//
// An empty pattern means {filename}.
type KeyBuilder struct {
	Prefix string
	// DateFolders inserts a yyyy/mm/dd folder between prefix and name.
	DateFolders bool
	Pattern     string
}

// Build constructs the object key for a source file submitted at now.
func (b KeyBuilder) Build(sourcePath string, now time.Time) string {
	pattern := b.Pattern
	if pattern == "" {
		pattern = "{filename}"
	}

	name := strings.NewReplacer(
		"{filename}", filepath.Base(sourcePath),
		"{timestamp}", now.UTC().Format("20060102-150405"),
		"{uuid}", uuid.NewString(),
	).Replace(pattern)

	segments := []string{strings.Trim(b.Prefix, "/")}
	if b.DateFolders {
		segments = append(segments, now.UTC().Format("2006/01/02"))
	}
	segments = append(segments, name)

	return strings.TrimPrefix(path.Join(segments...), "/")
}
