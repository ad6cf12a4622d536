package cmd

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/zipsniper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, names []string, comment string) *httptest.Server {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for _, name := range names {
		fw, err := w.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Store,
			Modified: time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC),
		})
		require.NoError(t, err)
		_, err = fw.Write(bytes.Repeat([]byte("x"), 2048))
		require.NoError(t, err)
	}
	require.NoError(t, w.SetComment(comment))
	require.NoError(t, w.Close())

	data := buf.Bytes()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "archive.zip", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func parse(t *testing.T, args ...string) (*List, []string) {
	p, c := NewParser()
	rest, err := p.ParseArgs(args)
	require.NoErrorf(t, err, "ParseArgs() error = %v", err)
	return c, rest
}

func TestList_Execute(t *testing.T) {
	ts := newTestServer(t, []string{"a.txt", "dir/b.bin"}, "")
	output := filepath.Join(t.TempDir(), "listing.txt")

	c, rest := parse(t, "-q", "-O", output, "--spill-dir", t.TempDir(), ts.URL+"/archive.zip")
	require.NoError(t, c.Execute(rest))

	data, err := os.ReadFile(output)
	assert.NoError(t, err)
	assert.Equal(t, "a.txt\ndir/b.bin\n", string(data))
}

func TestList_Execute_Filter(t *testing.T) {
	ts := newTestServer(t, []string{"a.txt", "dir/b.bin", "dir/c.txt"}, "")

	tests := []struct {
		name   string
		filter string
		want   string
	}{
		{name: "directory", filter: "dir/", want: "dir/b.bin\ndir/c.txt\n"},
		{name: "extension", filter: ".txt", want: "a.txt\ndir/c.txt\n"},
		{name: "no match", filter: "nope", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := filepath.Join(t.TempDir(), "listing.txt")

			c, rest := parse(t, "-q", "-f", tt.filter, "-O", output, ts.URL+"/archive.zip")
			require.NoError(t, c.Execute(rest))

			data, err := os.ReadFile(output)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestList_Execute_Long(t *testing.T) {
	ts := newTestServer(t, []string{"a.txt"}, "")
	output := filepath.Join(t.TempDir(), "listing.txt")

	c, rest := parse(t, "-q", "-l", "-O", output, ts.URL+"/archive.zip")
	require.NoError(t, c.Execute(rest))

	data, err := os.ReadFile(output)
	assert.NoError(t, err)
	assert.Equal(t, "   2.0 KiB  2025-03-14 15:09  a.txt\n", string(data))
}

func TestList_Execute_CommentBuffer(t *testing.T) {
	ts := newTestServer(t, []string{"a.txt"}, strings.Repeat("z", 4000))
	output := filepath.Join(t.TempDir(), "listing.txt")

	c, rest := parse(t, "-q", "-O", output, ts.URL+"/archive.zip")
	err := c.Execute(rest)
	var snfe *zipsniper.SignatureNotFoundError
	require.ErrorAsf(t, err, &snfe, "Execute() error = %v", err)
	assert.Equal(t, int64(1024), snfe.BufferSize)

	// the sign is ignored.
	c, rest = parse(t, "-q", "--comment-buffer=-8192", "-O", output, ts.URL+"/archive.zip")
	require.NoError(t, c.Execute(rest))

	data, err := os.ReadFile(output)
	assert.NoError(t, err)
	assert.Equal(t, "a.txt\n", string(data))
}

func TestList_Execute_InvalidProxy(t *testing.T) {
	c, rest := parse(t, "-q", "--http-proxy", "not-a-url", "http://example.com/archive.zip")
	assert.Error(t, c.Execute(rest))
}

func TestNewParser_Help(t *testing.T) {
	p, _ := NewParser()
	p.Options &^= flags.PrintErrors

	_, err := p.ParseArgs([]string{"--help"})
	assert.True(t, flags.WroteHelp(err))
}
