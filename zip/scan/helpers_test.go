package scan

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestZip creates an in-memory ZIP archive with the given entries (each containing its own name as content) and
// archive comment.
func newTestZip(t *testing.T, names []string, comment string) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoErrorf(t, err, "Create(%s) error = %v", name, err)

		if strings.HasSuffix(name, "/") {
			continue
		}

		_, err = w.Write([]byte(name))
		require.NoErrorf(t, err, "Write(%s) error = %v", name, err)
	}

	require.NoError(t, zw.SetComment(comment))
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// centralDirectoryOf returns the central directory bytes of a ZIP archive created by newTestZip.
func centralDirectoryOf(t *testing.T, b []byte) []byte {
	t.Helper()

	r, _, err := FindEOCD(b, 0)
	require.NoError(t, err)
	require.NotNil(t, r)

	d := r.Directory()
	return b[d.Offset : d.Offset+d.Size]
}

// cdfh hand-crafts a central directory file header.
func cdfh(name, extra, comment []byte, flags uint16) []byte {
	b := make([]byte, cdfhLen, cdfhLen+len(name)+len(extra)+len(comment))
	copy(b, CDFileHeaderSignature[:])
	binary.LittleEndian.PutUint16(b[4:], 20)
	binary.LittleEndian.PutUint16(b[6:], 20)
	binary.LittleEndian.PutUint16(b[8:], flags)
	binary.LittleEndian.PutUint32(b[20:], 3)
	binary.LittleEndian.PutUint32(b[24:], 5)
	binary.LittleEndian.PutUint16(b[28:], uint16(len(name)))
	binary.LittleEndian.PutUint16(b[30:], uint16(len(extra)))
	binary.LittleEndian.PutUint16(b[32:], uint16(len(comment)))
	b = append(b, name...)
	b = append(b, extra...)
	return append(b, comment...)
}

// eocdBytes hand-crafts a standard EOCD record.
func eocdBytes(count uint16, size, offset uint32, comment string) []byte {
	b := make([]byte, eocdLen, eocdLen+len(comment))
	copy(b, EOCDSignature[:])
	binary.LittleEndian.PutUint16(b[8:], count)
	binary.LittleEndian.PutUint16(b[10:], count)
	binary.LittleEndian.PutUint32(b[12:], size)
	binary.LittleEndian.PutUint32(b[16:], offset)
	binary.LittleEndian.PutUint16(b[20:], uint16(len(comment)))
	return append(b, comment...)
}

// eocd64Bytes hand-crafts a ZIP64 EOCD record.
func eocd64Bytes(count, size, offset uint64) []byte {
	b := make([]byte, eocd64Len)
	copy(b, EOCD64Signature[:])
	binary.LittleEndian.PutUint64(b[4:], eocd64Len-12)
	binary.LittleEndian.PutUint16(b[12:], 45)
	binary.LittleEndian.PutUint16(b[14:], 45)
	binary.LittleEndian.PutUint64(b[24:], count)
	binary.LittleEndian.PutUint64(b[32:], count)
	binary.LittleEndian.PutUint64(b[40:], size)
	binary.LittleEndian.PutUint64(b[48:], offset)
	return b
}

// eocd64LocatorBytes hand-crafts a ZIP64 EOCD locator pointing at offset.
func eocd64LocatorBytes(offset uint64) []byte {
	b := make([]byte, eocd64LocLen)
	copy(b, EOCD64LocatorSignature[:])
	binary.LittleEndian.PutUint64(b[8:], offset)
	binary.LittleEndian.PutUint32(b[16:], 1)
	return b
}
