package progress

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Bar renders transfer progress on a terminal.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar returns a byte progress bar writing to w. A total of -1 renders a
// spinner, used on receive where the size is not known.
func NewBar(w io.Writer, total int64, desc string) *Bar {
	return &Bar{bar: progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(250*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
	)}
}

// Update sets the cumulative byte count.
func (b *Bar) Update(done int64) {
	_ = b.bar.Set64(done)
}

// Finish completes the bar.
func (b *Bar) Finish() {
	_ = b.bar.Finish()
}
