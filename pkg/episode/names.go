// Package episode derives destination filenames for podcast episodes.
package episode

import (
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DateLayout is the date stamp appended to every episode filename.
const DateLayout = "2006.01.02"

var unsafeFilename = regexp.MustCompile(strings.Join([]string{
	`(PRN|AUX|CLOCK\$|NUL|CON|COM[1-9]|LPT[1-9])`,
	`[\x00-\x1f\\?*:";|/<>]`,
	`[$@{}]`,
}, "|"))

// SafeFilename strips Windows reserved device names and characters that are
// unsafe in a filename on any common filesystem. Leading and trailing spaces
// and dots are trimmed first.
func SafeFilename(title string) string {
	return unsafeFilename.ReplaceAllString(strings.Trim(title, " ."), "")
}

// ExtensionFromURL returns the lower-cased extension of the URL's path, or ""
// when the path has none. The query string never contributes.
func ExtensionFromURL(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.ToLower(path.Ext(p))
}

// preferred overrides mime's alphabetical choice for common enclosure types.
var preferred = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/ogg":   ".ogg",
	"audio/aac":   ".aac",
	"video/mp4":   ".mp4",
}

// ExtensionForType guesses an extension from an enclosure MIME type.
func ExtensionForType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := preferred[mediaType]; ok {
		return ext
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// Path builds <dir>/<safe title>_<YYYY.MM.DD><ext>. The extension comes from
// the URL, falling back to the content type.
func Path(dir, title string, published time.Time, rawURL, contentType string) string {
	ext := ExtensionFromURL(rawURL)
	if ext == "" {
		ext = ExtensionForType(contentType)
	}
	name := SafeFilename(title) + "_" + published.Format(DateLayout) + ext
	return filepath.Join(dir, name)
}
