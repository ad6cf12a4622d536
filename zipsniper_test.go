package zipsniper

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nguyengg/zipsniper/rangefetch"
	"github.com/nguyengg/zipsniper/zip/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

// testFetcher implements rangefetch.Fetcher by slicing into its in-memory data.
//
// ranges keeps track of the requested ranges for asserting.
type testFetcher struct {
	data    []byte
	sizeErr error
	ranges  []rangefetch.Range
}

func (f *testFetcher) Size(context.Context) (int64, error) {
	if f.sizeErr != nil {
		return 0, f.sizeErr
	}

	return int64(len(f.data)), nil
}

func (f *testFetcher) Fetch(_ context.Context, r rangefetch.Range) (io.ReadCloser, error) {
	f.ranges = append(f.ranges, r)

	off, n := r.Clip(int64(len(f.data)))
	return io.NopCloser(bytes.NewReader(f.data[off : off+n])), nil
}

// testWriterAtFetcher adds FetchTo to testFetcher.
type testWriterAtFetcher struct {
	*testFetcher
	fetchToCalls int
}

func (f *testWriterAtFetcher) FetchTo(_ context.Context, r rangefetch.Range, w io.WriterAt) (int64, error) {
	f.fetchToCalls++
	f.ranges = append(f.ranges, r)

	off, n := r.Clip(int64(len(f.data)))
	written, err := w.WriteAt(f.data[off:off+n], 0)
	return int64(written), err
}

func newTestZip(t *testing.T, names []string, comment string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for _, name := range names {
		fw, err := w.Create(name)
		require.NoError(t, err)
		if strings.HasSuffix(name, "/") {
			continue
		}
		_, err = fw.Write([]byte("hello, world: " + name))
		require.NoError(t, err)
	}
	require.NoError(t, w.SetComment(comment))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// cdfh returns a central directory file header without extra field or comment.
func cdfh(name string) []byte {
	b := make([]byte, 46, 46+len(name))
	binary.LittleEndian.PutUint32(b[0:], 0x02014b50)
	binary.LittleEndian.PutUint16(b[4:], 20)
	binary.LittleEndian.PutUint16(b[6:], 20)
	binary.LittleEndian.PutUint16(b[8:], 0x800)
	binary.LittleEndian.PutUint16(b[28:], uint16(len(name)))
	return append(b, name...)
}

func eocd(count uint16, size, offset uint32, comment string) []byte {
	b := make([]byte, 22, 22+len(comment))
	binary.LittleEndian.PutUint32(b[0:], 0x06054b50)
	binary.LittleEndian.PutUint16(b[8:], count)
	binary.LittleEndian.PutUint16(b[10:], count)
	binary.LittleEndian.PutUint32(b[12:], size)
	binary.LittleEndian.PutUint32(b[16:], offset)
	binary.LittleEndian.PutUint16(b[20:], uint16(len(comment)))
	return append(b, comment...)
}

// toZip64 replaces the trailing EOCD record of a comment-less archive with EOCD64 record, locator, and a saturated
// EOCD record.
func toZip64(b []byte) []byte {
	r := b[len(b)-22:]
	count := uint64(binary.LittleEndian.Uint16(r[10:]))
	size := uint64(binary.LittleEndian.Uint32(r[12:]))
	offset := uint64(binary.LittleEndian.Uint32(r[16:]))

	out := bytes.Clone(b[:len(b)-22])
	eocd64Offset := uint64(len(out))

	rec := make([]byte, 56)
	binary.LittleEndian.PutUint32(rec[0:], 0x06064b50)
	binary.LittleEndian.PutUint64(rec[4:], 44)
	binary.LittleEndian.PutUint16(rec[12:], 45)
	binary.LittleEndian.PutUint16(rec[14:], 45)
	binary.LittleEndian.PutUint64(rec[24:], count)
	binary.LittleEndian.PutUint64(rec[32:], count)
	binary.LittleEndian.PutUint64(rec[40:], size)
	binary.LittleEndian.PutUint64(rec[48:], offset)
	out = append(out, rec...)

	loc := make([]byte, 20)
	binary.LittleEndian.PutUint32(loc[0:], 0x07064b50)
	binary.LittleEndian.PutUint64(loc[8:], eocd64Offset)
	binary.LittleEndian.PutUint32(loc[16:], 1)
	out = append(out, loc...)

	return append(out, eocd(0xffff, 0xffffffff, 0xffffffff, "")...)
}

func TestList(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		comment string
	}{
		{
			name:  "default",
			names: []string{"test/a.txt", "test/path/b.txt", "test/another/path/c.txt"},
		},
		{
			name:    "with comment",
			names:   []string{"a.txt", "dir/", "dir/b.bin"},
			comment: "PK\x05\x06 is the EOCD signature",
		},
		{
			name:  "empty",
			names: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &testFetcher{data: newTestZip(t, tt.names, tt.comment)}

			listing, err := List(context.Background(), f)
			require.NoErrorf(t, err, "List() error = %v", err)
			assert.Equal(t, int64(len(f.data)), listing.Size)
			assert.False(t, listing.EOCD.Is64())
			assert.Equal(t, tt.names, nilIfEmpty(listing.Names()))
			assert.Equal(t, tt.comment, listing.EOCD.(scan.EOCDRecord).Comment)

			if len(tt.names) == 0 {
				assert.Len(t, f.ranges, 1, "empty central directory must not be fetched")
			} else {
				assert.Len(t, f.ranges, 2)
			}
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}

	return s
}

func TestList_Zip64(t *testing.T) {
	names := []string{"a.txt", "b/c.txt"}
	f := &testFetcher{data: toZip64(newTestZip(t, names, ""))}

	listing, err := List(context.Background(), f)
	require.NoErrorf(t, err, "List() error = %v", err)
	assert.True(t, listing.EOCD.Is64())
	assert.IsType(t, scan.EOCD64Record{}, listing.EOCD)
	assert.Equal(t, names, listing.Names())
}

func TestList_WriterAtFetcher(t *testing.T) {
	names := []string{"a.txt", "b/c.txt", "d"}
	f := &testWriterAtFetcher{testFetcher: &testFetcher{data: newTestZip(t, names, "")}}

	listing, err := List(context.Background(), f)
	require.NoErrorf(t, err, "List() error = %v", err)
	assert.Equal(t, names, listing.Names())
	assert.Equal(t, 1, f.fetchToCalls)
}

// TestList_Scenario uses a 500-byte object whose EOCD record is at offset 470 and whose central directory ends at 469.
func TestList_Scenario(t *testing.T) {
	var cd []byte
	cd = append(cd, cdfh("a.txt")...)
	cd = append(cd, cdfh("dir/b.bin")...)
	cdOffset := 470 - len(cd)

	data := bytes.Repeat([]byte{0}, cdOffset)
	data = append(data, cd...)
	data = append(data, eocd(2, uint32(len(cd)), uint32(cdOffset), "comment!")...)
	require.Len(t, data, 500)

	f := &testFetcher{data: data}
	listing, err := List(context.Background(), f)
	require.NoErrorf(t, err, "List() error = %v", err)
	assert.Equal(t, []string{"a.txt", "dir/b.bin"}, listing.Names())
	assert.Equal(t, []rangefetch.Range{
		rangefetch.SuffixRange(1024),
		rangefetch.BytesRange(int64(cdOffset), 469),
	}, f.ranges)
}

func TestList_HTTP(t *testing.T) {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for _, name := range []string{"a.txt", "dir/b.bin"} {
		fw, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = fw.Write(bytes.Repeat([]byte("x"), 3<<20))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	data := buf.Bytes()

	var (
		mu       sync.Mutex
		requests []string
		served   int
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		requests = append(requests, strings.TrimSpace(r.Method+" "+r.Header.Get("Range")))
		var rec bytes.Buffer
		http.ServeContent(&recordingWriter{ResponseWriter: w, body: &rec}, r, "archive.zip", time.Time{}, bytes.NewReader(data))
		served += rec.Len()
	}))
	defer ts.Close()

	f, err := rangefetch.NewHTTP(ts.URL + "/archive.zip")
	require.NoError(t, err)

	listing, err := List(context.Background(), f)
	require.NoErrorf(t, err, "List() error = %v", err)
	assert.Equal(t, []string{"a.txt", "dir/b.bin"}, listing.Names())

	d := listing.EOCD.Directory()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"HEAD",
		"GET bytes=-1024",
		fmt.Sprintf("GET bytes=%d-%d", d.Offset, d.Offset+d.Size-1),
	}, requests)
	assert.Equal(t, 1024+int(d.Size), served)
}

// recordingWriter copies the response body into body.
type recordingWriter struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

func TestList_IncompleteDirectoryList(t *testing.T) {
	b := newTestZip(t, []string{"a.txt", "b.txt", "c.txt"}, "")

	// shrink the central directory so that it no longer includes the last header, keeping the count.
	r := b[len(b)-22:]
	cdOffset := binary.LittleEndian.Uint32(r[16:])
	last := bytes.LastIndex(b, []byte("PK\x01\x02"))
	binary.LittleEndian.PutUint32(r[12:], uint32(last)-cdOffset)

	_, err := List(context.Background(), &testFetcher{data: b})
	var ide *IncompleteDirectoryListError
	require.ErrorAsf(t, err, &ide, "List() error = %v", err)
	assert.Equal(t, uint64(3), ide.Expected)
	assert.Equal(t, uint64(2), ide.Found)
}

func TestList_SignatureNotFound(t *testing.T) {
	tests := []struct {
		name          string
		data          []byte
		commentBuffer int64
	}{
		{
			name:          "tail smaller than EOCD",
			data:          newTestZip(t, []string{"a.txt"}, ""),
			commentBuffer: 21,
		},
		{
			name:          "object smaller than EOCD",
			data:          []byte("PK\x05\x06 too short"),
			commentBuffer: DefaultCommentBuffer,
		},
		{
			name:          "comment longer than buffer",
			data:          newTestZip(t, []string{"a.txt"}, string(bytes.Repeat([]byte("z"), 2000))),
			commentBuffer: DefaultCommentBuffer,
		},
		{
			name:          "not a zip",
			data:          bytes.Repeat([]byte("not a zip file. "), 100),
			commentBuffer: DefaultCommentBuffer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := List(context.Background(), &testFetcher{data: tt.data}, func(opts *Options) {
				opts.CommentBuffer = tt.commentBuffer
			})
			var snfe *SignatureNotFoundError
			require.ErrorAsf(t, err, &snfe, "List() error = %v", err)
			assert.Equal(t, tt.commentBuffer, snfe.BufferSize)
		})
	}
}

func TestList_NegativeCommentBuffer(t *testing.T) {
	comment := string(bytes.Repeat([]byte("z"), 2000))
	f := &testFetcher{data: newTestZip(t, []string{"a.txt"}, comment)}

	listing, err := List(context.Background(), f, func(opts *Options) {
		opts.CommentBuffer = -4096
	})
	require.NoErrorf(t, err, "List() error = %v", err)
	assert.Equal(t, []string{"a.txt"}, listing.Names())
	assert.Equal(t, rangefetch.SuffixRange(4096), f.ranges[0])
}

func TestList_TransportError(t *testing.T) {
	boom := &rangefetch.TransportError{Op: "size", URL: "https://example.com/a.zip", Err: errors.New("boom")}

	_, err := List(context.Background(), &testFetcher{sizeErr: boom})
	var te *rangefetch.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestList_MalformedRemovesSpillFile(t *testing.T) {
	dir := t.TempDir()

	// name length is declared as 5 but only 3 bytes remain.
	cd := cdfh("abcde")[:46+3]
	data := append([]byte("filler"), cd...)
	data = append(data, eocd(1, uint32(len(cd)), 6, "")...)

	_, err := List(context.Background(), &testFetcher{data: data}, func(opts *Options) {
		opts.SpillDir = dir
	})
	var mre *scan.MalformedRecordError
	require.ErrorAsf(t, err, &mre, "List() error = %v", err)
	assert.Equal(t, int64(6), mre.Offset)

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Empty(t, entries)

	// success must also remove the spill file.
	_, err = List(context.Background(), &testFetcher{data: newTestZip(t, []string{"a"}, "")}, func(opts *Options) {
		opts.SpillDir = dir
	})
	assert.NoError(t, err)
	entries, err = os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestList_DirectoryExceedsArchive(t *testing.T) {
	data := append(bytes.Repeat([]byte{0}, 10), eocd(1, 100, 0, "")...)

	_, err := List(context.Background(), &testFetcher{data: data})
	var mre *scan.MalformedRecordError
	require.ErrorAsf(t, err, &mre, "List() error = %v", err)
	assert.Equal(t, int64(10), mre.Offset)
}

func TestList_Charmap(t *testing.T) {
	cd := cdfh("m\x81nchen")
	// clear the UTF-8 flag.
	binary.LittleEndian.PutUint16(cd[8:], 0)
	data := append(cd, eocd(1, uint32(len(cd)), 0, "")...)

	_, err := List(context.Background(), &testFetcher{data: data})
	var mre *scan.MalformedRecordError
	assert.ErrorAs(t, err, &mre)

	listing, err := List(context.Background(), &testFetcher{data: data}, func(opts *Options) {
		opts.Charmap = charmap.CodePage437
	})
	require.NoErrorf(t, err, "List() error = %v", err)
	assert.Equal(t, []string{"münchen"}, listing.Names())
}

func TestList_ProgressLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	verbose := &bytes.Buffer{}

	_, err := List(context.Background(), &testFetcher{data: newTestZip(t, []string{"a.txt"}, "")},
		WithProgressLogger(log.New(buf, "", 0), time.Hour),
		func(opts *Options) {
			opts.Logger = log.New(verbose, "", 0)
		})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "central directory: fetched ")
	assert.Contains(t, buf.String(), "(100%)")
	assert.Contains(t, verbose.String(), "zip64: false")
}
