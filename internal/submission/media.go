package submission

import (
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMediaTypes is the allow-list used when SUBMISSION_MEDIA_TYPES is
// unset: documents, images, video and plain text.
var DefaultMediaTypes = []string{
	// documents
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.oasis.opendocument.text",
	"application/rtf",
	// images
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/heic",
	"image/heif",
	"image/tiff",
	"image/bmp",
	// video
	"video/mp4",
	"video/quicktime",
	"video/webm",
	"video/mpeg",
	"video/x-msvideo",
	// text
	"text/plain",
	"text/markdown",
	"text/csv",
}

const octetStream = "application/octet-stream"

// AllowList matches media types exactly or by "type/*" wildcard.
type AllowList struct {
	exact    map[string]bool
	prefixes []string
	entries  []string
}

// NewAllowList builds an AllowList from entries. Empty input selects
// DefaultMediaTypes.
func NewAllowList(entries []string) *AllowList {
	if len(entries) == 0 {
		entries = DefaultMediaTypes
	}
	a := &AllowList{exact: make(map[string]bool)}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		a.entries = append(a.entries, e)
		if prefix, ok := strings.CutSuffix(e, "/*"); ok {
			a.prefixes = append(a.prefixes, prefix+"/")
			continue
		}
		a.exact[e] = true
	}
	sort.Strings(a.entries)
	return a
}

func (a *AllowList) Allows(mediaType string) bool {
	if a.exact[mediaType] {
		return true
	}
	for _, p := range a.prefixes {
		if strings.HasPrefix(mediaType, p) {
			return true
		}
	}
	return false
}

// Entries returns the configured entries, sorted.
func (a *AllowList) Entries() []string {
	return append([]string(nil), a.entries...)
}

// ResolveMediaType returns the media type of a file: the declared
// Content-Type when it is specific, otherwise the type sniffed from data,
// otherwise the type registered for the file extension.
func ResolveMediaType(filename, declared string, data []byte) string {
	if mt := baseType(declared); mt != "" && mt != octetStream {
		return mt
	}
	if mt := baseType(mimetype.Detect(data).String()); mt != "" && mt != octetStream {
		return mt
	}
	if mt := baseType(mime.TypeByExtension(filepath.Ext(filename))); mt != "" {
		return mt
	}
	return octetStream
}

// baseType strips parameters and lowercases a media type. Unparseable
// values yield "".
func baseType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}
