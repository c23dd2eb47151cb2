package remote

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

var (
	contentRangeRegexp = regexp.MustCompile(`^bytes ([0-9]+)-([0-9]+)/([0-9]+|\*)$`)

	errMalformedContentRange = errors.New("malformed content range")
)

// ContentRange is a parsed "Content-Range: bytes <start>-<end>/<total>"
// header. Total is -1 for "*".
type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

// Metadata is what a response says about the remote resource. It is never
// cached: every call re-fetches because the resource may have changed.
type Metadata struct {
	StatusCode int
	// FinalURL is the URL after redirects.
	FinalURL string
	// ContentLength is -1 when the server did not send one.
	ContentLength int64
	// LastModified is the zero time when absent or unparseable.
	LastModified time.Time
	// ContentMD5 is logged only; nothing is hashed locally.
	ContentMD5   string
	ContentRange *ContentRange
}

// TotalLength is the size of the whole resource as far as the response can
// tell, or -1.
func (m Metadata) TotalLength() int64 {
	if m.ContentRange != nil {
		if m.ContentRange.Total >= 0 {
			return m.ContentRange.Total
		}
		return -1
	}
	return m.ContentLength
}

func metadataFromResponse(resp *http.Response) Metadata {
	md := Metadata{
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		ContentMD5:    resp.Header.Get("Content-MD5"),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		md.FinalURL = resp.Request.URL.String()
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			md.LastModified = t
		}
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if parsed, err := ParseContentRange(cr); err == nil {
			md.ContentRange = &parsed
		}
	}
	return md
}

func ParseContentRange(header string) (ContentRange, error) {
	matches := contentRangeRegexp.FindStringSubmatch(header)
	if matches == nil {
		return ContentRange{}, fmt.Errorf("%w: %s", errMalformedContentRange, header)
	}
	start, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return ContentRange{}, fmt.Errorf("%w: %s", errMalformedContentRange, header)
	}
	end, err := strconv.ParseInt(matches[2], 10, 64)
	if err != nil {
		return ContentRange{}, fmt.Errorf("%w: %s", errMalformedContentRange, header)
	}
	total := int64(-1)
	if matches[3] != "*" {
		total, err = strconv.ParseInt(matches[3], 10, 64)
		if err != nil {
			return ContentRange{}, fmt.Errorf("%w: %s", errMalformedContentRange, header)
		}
	}
	if start > end || (total >= 0 && end >= total) {
		return ContentRange{}, fmt.Errorf("%w: %s", errMalformedContentRange, header)
	}
	return ContentRange{Start: start, End: end, Total: total}, nil
}
