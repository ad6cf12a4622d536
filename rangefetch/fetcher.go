// Package rangefetch reads byte ranges of remote objects using HTTP Range requests or ranged S3 GetObject.
package rangefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrRangeUnsupported is returned (wrapped) if the server does not honour partial content requests.
var ErrRangeUnsupported = errors.New("server does not support range requests")

// TransportError is returned when a request could not be completed, e.g. host unreachable or non-success status.
type TransportError struct {
	// Op is the operation that failed, e.g. "size" or "fetch bytes=0-99".
	Op string
	// URL identifies the remote object.
	URL string
	Err error
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s error: %v", e.Op, e.URL, e.Err)
}

// Range is either a suffix range (the last Suffix bytes) or an inclusive [Start, End] range.
type Range struct {
	Start, End int64
	Suffix     int64
}

// SuffixRange returns the Range of the last n bytes.
func SuffixRange(n int64) Range {
	return Range{Suffix: n}
}

// BytesRange returns the Range from start to end, both inclusive.
func BytesRange(start, end int64) Range {
	return Range{Start: start, End: end}
}

// IsSuffix is true if r was created with SuffixRange.
func (r Range) IsSuffix() bool {
	return r.Suffix > 0
}

// String returns the value of the Range header, e.g. `bytes=-1024` or `bytes=400-469`.
func (r Range) String() string {
	if r.IsSuffix() {
		return fmt.Sprintf("bytes=-%d", r.Suffix)
	}

	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Clip returns the offset and length of r within an object of the given size.
//
// Suffix ranges larger than the object cover the whole object; [Start, End] ranges are truncated at end of object.
func (r Range) Clip(size int64) (off, n int64) {
	if r.IsSuffix() {
		off = max(0, size-r.Suffix)
		return off, size - off
	}

	off = min(max(0, r.Start), size)
	return off, max(0, min(r.End+1, size)-off)
}

// Fetcher abstracts fetching byte ranges of a single remote object.
type Fetcher interface {
	// Size returns the total byte length of the remote object.
	Size(ctx context.Context) (int64, error)

	// Fetch returns the content of the given range. Caller must close the returned io.ReadCloser.
	Fetch(ctx context.Context, r Range) (io.ReadCloser, error)
}

// WriterAtFetcher can download a range directly into an io.WriterAt, writing the first byte of the range at offset 0.
type WriterAtFetcher interface {
	Fetcher

	// FetchTo writes the content of the given range to w and returns the number of bytes written.
	FetchTo(ctx context.Context, r Range, w io.WriterAt) (int64, error)
}

// Options customises New.
type Options struct {
	// HTTPOptions are passed to NewHTTP for http:// and https:// URLs.
	HTTPOptions []func(*HTTPOptions)

	// S3Client returns the client used for s3:// URLs.
	//
	// By default, the client is created from config.LoadDefaultConfig.
	S3Client func(ctx context.Context, bucket string) (S3Client, error)

	// S3Options are passed to NewS3 for s3:// URLs.
	S3Options []func(*S3Options)
}

// New returns the Fetcher that is appropriate for the scheme of rawURL.
//
// Supported schemes are http, https, and s3 (in format s3://bucket/key).
func New(ctx context.Context, rawURL string, optFns ...func(*Options)) (Fetcher, error) {
	opts := &Options{S3Client: defaultS3Client}
	for _, fn := range optFns {
		fn(opts)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL error: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTP(rawURL, opts.HTTPOptions...)
	case "s3":
		bucket, key, err := ParseS3URI(rawURL)
		if err != nil {
			return nil, err
		}

		client, err := opts.S3Client(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("create S3 client error: %w", err)
		}

		return NewS3(client, bucket, key, opts.S3Options...), nil
	default:
		return nil, fmt.Errorf(`unsupported scheme "%s"`, u.Scheme)
	}
}
