package zipsniper

import (
	"context"
	"fmt"
	"io"
)

// copyBufferWithContext is a custom implementation of io.CopyBuffer that is cancellable via context.
//
// Similar to io.CopyBuffer, if buf is nil, a new buffer of size 32*1024 is created. The context is checked for done
// status after every write.
func copyBufferWithContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (written int64, err error) {
	if buf == nil {
		buf = make([]byte, 32*1024)
	}

	var nr, nw int
	for {
		nr, err = src.Read(buf)

		if nr > 0 {
			switch nw, err = dst.Write(buf[0:nr]); {
			case err != nil:
				return written, err
			case nw < nr:
				return written + int64(nw), io.ErrShortWrite
			case nr != nw:
				return written, fmt.Errorf("invalid write: expected to write %d bytes, wrote %d bytes instead", nr, nw)
			}

			written += int64(nr)

			select {
			case <-ctx.Done():
				return written, ctx.Err()
			default:
			}
		}

		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// progressWriterAt forwards every WriteAt to w, then reports the written bytes to progress.
//
// The central directory is downloaded with a single ranged request, so writes arrive in order.
type progressWriterAt struct {
	w        io.WriterAt
	progress io.Writer
}

func (p *progressWriterAt) WriteAt(b []byte, off int64) (n int, err error) {
	n, err = p.w.WriteAt(b, off)
	if n > 0 {
		_, _ = p.progress.Write(b[:n])
	}

	return
}
