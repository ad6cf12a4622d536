// Package zipsniper lists the entries of a remote ZIP archive by fetching only its end of central directory record and
// its central directory.
package zipsniper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/nguyengg/zipsniper/rangefetch"
	"github.com/nguyengg/zipsniper/zip/scan"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/text/encoding/charmap"
)

// DefaultCommentBuffer is the default value of [Options.CommentBuffer].
//
// The EOCD record is 22 bytes followed by a comment of up to 65535 bytes. Most archives have short or no comments.
const DefaultCommentBuffer int64 = 1024

// Options customises List.
type Options struct {
	// CommentBuffer is the number of bytes at the end of the archive to search for the EOCD record.
	//
	// By default, DefaultCommentBuffer is used. Negative values are treated as their absolute value. If the archive is
	// smaller than CommentBuffer, the whole archive is searched.
	CommentBuffer int64

	// SpillDir is the directory for the temporary file that holds the central directory while it is decoded.
	//
	// By default, os.TempDir is used. The file is always removed before List returns.
	SpillDir string

	// Charmap decodes names that are not valid UTF-8 and whose UTF-8 flag is clear.
	//
	// By default, such names fail the listing with a scan.MalformedRecordError.
	Charmap *charmap.Charmap

	// Logger logs each step of the listing.
	//
	// By default, nothing is logged.
	Logger *log.Logger

	progress func(size int64) io.WriteCloser
}

// Listing is the result of List.
type Listing struct {
	// Size is the size of the archive in bytes.
	Size int64
	// EOCD is either a scan.EOCDRecord or a scan.EOCD64Record.
	EOCD scan.EOCD
	// Headers are the central directory file headers in archive order.
	Headers []scan.CDFileHeader
}

// Names returns the names of the entries in archive order.
func (l *Listing) Names() []string {
	names := make([]string, len(l.Headers))
	for i, fh := range l.Headers {
		names[i] = fh.Name
	}

	return names
}

// List fetches and decodes the central directory of the ZIP archive behind f.
//
// Exactly three kinds of requests are made, in order: the size of the archive, the last Options.CommentBuffer bytes,
// and the byte range of the central directory. The last one is skipped if the central directory is empty.
//
// If the EOCD record cannot be found, a SignatureNotFoundError is returned. If the number of decoded headers does not
// match the EOCD record's count, an IncompleteDirectoryListError is returned. Errors from f are returned wrapped so
// that errors.As can find the rangefetch.TransportError.
func List(ctx context.Context, f rangefetch.Fetcher, optFns ...func(*Options)) (*Listing, error) {
	opts := &Options{
		CommentBuffer: DefaultCommentBuffer,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	bufferSize := opts.CommentBuffer
	if bufferSize < 0 {
		bufferSize = -bufferSize
	}

	size, err := f.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("get archive size error: %w", err)
	}
	logger.Printf("archive size: %d", size)

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	if err = fetchTail(ctx, f, bufferSize, size, bb); err != nil {
		return nil, err
	}

	tailOffset := size - int64(bb.Len())
	r, pos, err := scan.FindEOCD(bb.B, tailOffset)
	switch {
	case err != nil:
		return nil, fmt.Errorf("find EOCD error: %w", err)
	case r == nil:
		return nil, &SignatureNotFoundError{BufferSize: bufferSize}
	}
	logger.Printf("zip64: %t, EOCD offset: %d", r.Is64(), tailOffset+int64(pos))

	dir := r.Directory()
	if dir.Size > uint64(size) || dir.Offset > uint64(size)-dir.Size {
		return nil, &scan.MalformedRecordError{
			Record: "EOCD",
			Offset: tailOffset + int64(pos),
			Err:    fmt.Errorf("central directory at offset %d with size %d exceeds archive size %d", dir.Offset, dir.Size, size),
		}
	}
	logger.Printf("central directory offset: %d, size: %d, count: %d", dir.Offset, dir.Size, dir.Count)

	// a corrupted count must not cause a huge allocation.
	headers := make([]scan.CDFileHeader, 0, min(dir.Count, 1<<16))
	if dir.Size > 0 {
		if headers, err = fetchCentralDirectory(ctx, f, dir, headers, opts); err != nil {
			return nil, err
		}
	}

	if uint64(len(headers)) != dir.Count {
		return nil, &IncompleteDirectoryListError{Expected: dir.Count, Found: uint64(len(headers))}
	}

	return &Listing{Size: size, EOCD: r, Headers: headers}, nil
}

// fetchTail reads the last bufferSize bytes of the archive into bb.
//
// The suffix range is requested as-is; the fetcher clips it if the archive is smaller.
func fetchTail(ctx context.Context, f rangefetch.Fetcher, bufferSize, size int64, bb *bytebufferpool.ByteBuffer) error {
	n := min(bufferSize, size)
	if n <= 0 {
		return nil
	}

	body, err := f.Fetch(ctx, rangefetch.SuffixRange(bufferSize))
	if err != nil {
		return fmt.Errorf("fetch tail error: %w", err)
	}
	defer body.Close()

	if _, err = bb.ReadFrom(io.LimitReader(body, n)); err != nil {
		return fmt.Errorf("read tail error: %w", err)
	}

	return nil
}

// fetchCentralDirectory downloads the central directory into a spill file, then decodes it into headers.
func fetchCentralDirectory(ctx context.Context, f rangefetch.Fetcher, dir scan.Directory, headers []scan.CDFileHeader, opts *Options) (_ []scan.CDFileHeader, err error) {
	spill, err := createSpillFile(opts.SpillDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := spill.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var progress io.WriteCloser = discardProgress{}
	if opts.progress != nil {
		progress = opts.progress(int64(dir.Size))
	}

	r := rangefetch.BytesRange(int64(dir.Offset), int64(dir.Offset+dir.Size-1))

	var written int64
	if wf, ok := f.(rangefetch.WriterAtFetcher); ok {
		written, err = wf.FetchTo(ctx, r, &progressWriterAt{w: spill, progress: progress})
	} else {
		var body io.ReadCloser
		if body, err = f.Fetch(ctx, r); err == nil {
			written, err = copyBufferWithContext(ctx, io.MultiWriter(spill, progress), body, nil)
			_ = body.Close()
		}
	}
	_ = progress.Close()

	switch {
	case err != nil:
		return nil, fmt.Errorf("fetch central directory error: %w", err)
	case written != int64(dir.Size):
		return nil, fmt.Errorf("fetch central directory error: got %d bytes, expected %d: %w", written, dir.Size, io.ErrUnexpectedEOF)
	}

	if _, err = spill.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek spill file error: %w", err)
	}

	for fh, err := range scan.Headers(spill, int64(dir.Size), func(scanOpts *scan.Options) {
		scanOpts.Charmap = opts.Charmap
	}) {
		if err != nil {
			var mre *scan.MalformedRecordError
			if errors.As(err, &mre) {
				// make the offset absolute within the archive.
				mre.Offset += int64(dir.Offset)
			}

			return nil, fmt.Errorf("decode central directory error: %w", err)
		}

		headers = append(headers, fh)
	}

	return headers, nil
}
