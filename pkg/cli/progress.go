package cli

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressBar renders transfer progress. Update has the transfer.ProgressFunc
// signature.
type ProgressBar struct {
	bar *progressbar.ProgressBar
	max int64
}

func NewProgressBar(w io.Writer) *ProgressBar {
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
	)
	return &ProgressBar{bar: bar, max: -1}
}

// Start resets the bar for the next file.
func (p *ProgressBar) Start(description string) {
	p.bar.Reset()
	p.bar.Describe(description)
}

func (p *ProgressBar) Update(bytesOnDisk, totalBytes int64) {
	if totalBytes != p.max {
		p.bar.ChangeMax64(totalBytes)
		p.max = totalBytes
	}
	_ = p.bar.Set64(bytesOnDisk)
}

func (p *ProgressBar) Finish() {
	_ = p.bar.Finish()
}
