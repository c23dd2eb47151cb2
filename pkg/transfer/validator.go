package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// sizeTolerance absorbs servers that are off by one in what they report.
const sizeTolerance = 1

type Verdict int

const (
	// VerdictUnverified is not an error: the evidence was insufficient and
	// the caller decides.
	VerdictUnverified Verdict = iota
	VerdictValid
	VerdictSkip
)

func (v Verdict) String() string {
	switch v {
	case VerdictUnverified:
		return "unverified"
	case VerdictValid:
		return "valid"
	case VerdictSkip:
		return "skip"
	}
	return "unknown"
}

type Validation struct {
	Verdict   Verdict
	Reason    string
	LocalSize int64
}

// Validator decides whether a local file is the complete resource using
// size and timestamp evidence, since no digest is available to compare.
type Validator struct {
	remote Remote
	logger zerolog.Logger
}

func NewValidator(remote Remote, logger zerolog.Logger) *Validator {
	return &Validator{remote: remote, logger: logger}
}

// Validate runs the heuristics in order and stops at the first that holds:
//
//  1. sentinel marker present: Skip
//  2. local size within 1 byte of req.ExpectedLength
//  3. local size within 1 byte of, or larger than, the live Content-Length
//  4. with req.ExpectedModTime set: local mtime equals it, or equals the live Last-Modified
//
// Network failures while fetching live metadata are returned as errors.
func (v *Validator) Validate(ctx context.Context, req Request) (Validation, error) {
	if pathExists(req.sentinelPath()) {
		return Validation{Verdict: VerdictSkip, Reason: fmt.Sprintf("sentinel %s present", req.sentinelPath())}, nil
	}

	local, err := statFile(req.Dest)
	if err != nil {
		return Validation{}, err
	}
	if !local.exists {
		return Validation{Verdict: VerdictUnverified, Reason: "destination does not exist"}, nil
	}
	result := Validation{LocalSize: local.size}

	if req.ExpectedLength > 0 && absDiff(local.size, req.ExpectedLength) <= sizeTolerance {
		result.Verdict = VerdictValid
		result.Reason = fmt.Sprintf("file length %d matches expected length %d", local.size, req.ExpectedLength)
		return result, nil
	}

	md, err := v.remote.FetchMetadata(ctx, req.URL)
	if err != nil {
		return Validation{}, err
	}
	if md.ContentMD5 != "" {
		v.logger.Info().Str("content_md5", md.ContentMD5).Msg("Content-MD5")
	}

	if md.ContentLength >= 0 {
		if absDiff(local.size, md.ContentLength) <= sizeTolerance {
			result.Verdict = VerdictValid
			result.Reason = fmt.Sprintf("file length %d matches content length %d", local.size, md.ContentLength)
			return result, nil
		}
		if local.size > md.ContentLength {
			// A longer local file is accepted as a superset of the remote.
			// This also lets a file with duplicated trailing bytes through.
			result.Verdict = VerdictValid
			result.Reason = fmt.Sprintf("file length %d exceeds content length %d", local.size, md.ContentLength)
			v.logger.Warn().Int64("file_length", local.size).Int64("content_length", md.ContentLength).Msg("Local file longer than remote")
			return result, nil
		}
	}

	reasons := []string{fmt.Sprintf("file length %d, expected length %d, content length %d", local.size, req.ExpectedLength, md.ContentLength)}

	if !req.ExpectedModTime.IsZero() {
		if sameSecond(local.modTime, req.ExpectedModTime) {
			result.Verdict = VerdictValid
			result.Reason = fmt.Sprintf("file mtime %s matches published time", formatTime(local.modTime))
			return result, nil
		}
		if !md.LastModified.IsZero() && sameSecond(md.LastModified, local.modTime) {
			result.Verdict = VerdictValid
			result.Reason = fmt.Sprintf("file mtime %s matches Last-Modified", formatTime(local.modTime))
			return result, nil
		}
		reasons = append(reasons, fmt.Sprintf("file mtime %s, Last-Modified %s, published %s",
			formatTime(local.modTime), formatTime(md.LastModified), formatTime(req.ExpectedModTime)))
	}

	result.Verdict = VerdictUnverified
	result.Reason = strings.Join(reasons, "; ")
	v.logger.Info().Str("reason", result.Reason).Msg("Validation mismatch")
	return result, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
