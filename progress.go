package zipsniper

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"
)

// WithProgressLogger reports central directory download progress to logger at most once per interval.
//
// Each report reads like `central directory: 5.0 MiB of 12 MiB (41%)`. A final report is always made once the download
// ends, successfully or not.
func WithProgressLogger(logger *log.Logger, interval time.Duration) func(*Options) {
	return func(opts *Options) {
		opts.progress = func(size int64) io.WriteCloser {
			return &progressLog{logger: logger, every: &rate.Sometimes{Interval: interval}, size: size}
		}
	}
}

// WithProgressBar displays central directory download progress as a progress bar on stderr.
//
// The given options are applied after the defaults so they can override them.
func WithProgressBar(options ...progressbar.Option) func(*Options) {
	return func(opts *Options) {
		opts.progress = func(size int64) io.WriteCloser {
			return &progressBar{size: size, options: options}
		}
	}
}

type progressLog struct {
	logger  *log.Logger
	every   *rate.Sometimes
	n, size int64
}

func (l *progressLog) report(format string) {
	var pct int64 = 100
	if l.size > 0 {
		pct = l.n * 100 / l.size
	}

	l.logger.Printf(format, humanize.IBytes(uint64(l.n)), humanize.IBytes(uint64(l.size)), pct)
}

func (l *progressLog) Write(p []byte) (int, error) {
	l.n += int64(len(p))
	l.every.Do(func() {
		l.report("central directory: %s of %s (%d%%)")
	})

	return len(p), nil
}

func (l *progressLog) Close() error {
	if l.n == l.size {
		l.report("central directory: fetched %s of %s (%d%%)")
	} else {
		l.report("central directory: stopped at %s of %s (%d%%)")
	}

	return nil
}

// progressBar creates its bar on first write so that nothing is drawn if the download fails to start.
type progressBar struct {
	bar     *progressbar.ProgressBar
	size    int64
	options []progressbar.Option
}

func (b *progressBar) Write(p []byte) (int, error) {
	if b.bar == nil {
		b.bar = progressbar.NewOptions64(b.size, append([]progressbar.Option{
			progressbar.OptionSetDescription("central directory"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowTotalBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(time.Second),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionOnCompletion(func() {
				_, _ = fmt.Fprintln(os.Stderr)
			}),
		}, b.options...)...)
	}

	// the bar is cosmetic; its errors must not fail the download.
	_, _ = b.bar.Write(p)
	return len(p), nil
}

func (b *progressBar) Close() error {
	if b.bar == nil {
		return nil
	}

	return b.bar.Close()
}

// discardProgress is used when no progress option is given.
type discardProgress struct{}

func (discardProgress) Write(p []byte) (int, error) {
	return len(p), nil
}

func (discardProgress) Close() error {
	return nil
}
