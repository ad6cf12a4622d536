package scan

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// CDFileHeader extends zip.FileHeader with additional information from the central directory.
type CDFileHeader struct {
	zip.FileHeader

	// DiskNumber is the disk number where file starts.
	//
	// Since floppy disks aren't a thing anymore, this field is most likely unused.
	DiskNumber uint32

	// InternalAttrs is the internal file attributes field.
	InternalAttrs uint16

	// Offset is the relative offset of local file header.
	//
	// This is the number of bytes between the start of the first disk on which the file occurs, and the start of
	// the local file header.
	//
	// See https://en.wikipedia.org/wiki/ZIP_(file_format)#Central_directory_file_header_(CDFH).
	Offset uint64

	// Position is the offset of this header relative to the start of the central directory.
	Position int64
}

// Options customises how the central directory is decoded.
type Options struct {
	// Charmap is used to decode names that are not valid UTF-8 and whose UTF-8 flag (general purpose bit 11) is
	// clear. charmap.CodePage437 is the historical default of ZIP tools.
	//
	// By default, the zero value returns a MalformedRecordError for such names.
	Charmap *charmap.Charmap
}

// fixedSizeCDFileHeader needs to be fixed size to work with binary.Read.
//
// https://en.wikipedia.org/wiki/ZIP_(file_format)#Central_directory_file_header_(CDFH)
type fixedSizeCDFileHeader struct {
	Signature         uint32
	CreatorVersion    uint16
	ReaderVersion     uint16
	Flags             uint16
	Method            uint16
	ModifiedTime      uint16
	ModifiedDate      uint16
	CRC32             uint32
	CompressedSize    uint32
	UncompressedSize  uint32
	FileNameLength    uint16
	ExtraFieldLength  uint16
	FileCommentLength uint16
	DiskNumber        uint16
	InternalAttrs     uint16
	ExternalAttrs     uint32
	Offset            uint32
}

// Headers decodes the central directory file headers from src, which must contain exactly the size bytes of the
// central directory.
//
// src is scanned forward for the CD file header signature. After each header is decoded, the search resumes right
// after its file name, extra field, and comment so that signature bytes inside those fields are never mistaken for
// the next header. Bytes between headers that do not start a header are skipped.
//
// The iterator stops at the first error. A header whose fixed-size part or declared variable-size parts do not fit in
// the remaining bytes yields a MalformedRecordError, as does a file name that cannot be decoded.
func Headers(src io.Reader, size int64, optFns ...func(*Options)) iter.Seq2[CDFileHeader, error] {
	opts := &Options{}
	for _, fn := range optFns {
		fn(opts)
	}

	return func(yield func(CDFileHeader, error) bool) {
		var (
			br  = bufio.NewReaderSize(io.LimitReader(src, size), 16*1024)
			buf = make([]byte, cdfhLen)
			pos int64
		)

		for {
			skipped, err := skipToSignature(br, CDFileHeaderSignature)
			pos += skipped
			switch {
			case errors.Is(err, io.EOF):
				return
			case err != nil:
				yield(CDFileHeader{}, fmt.Errorf("find CD file header error: %w", err))
				return
			}

			switch n, err := io.ReadFull(br, buf); {
			case errors.Is(err, io.ErrUnexpectedEOF):
				yield(CDFileHeader{}, &MalformedRecordError{
					Record: "CD file header",
					Offset: pos,
					Err:    fmt.Errorf("insufficient data: need at least %d bytes, got %d", cdfhLen, n),
				})
				return
			case err != nil:
				yield(CDFileHeader{}, fmt.Errorf("read CD file header error: %w", err))
				return
			}

			fh, n, err := decodeCDFileHeader(br, ([cdfhLen]byte)(buf), pos, size, opts)
			if err != nil {
				yield(fh, err)
				return
			}

			// resume the search past name, extra, and comment.
			pos += cdfhLen + n

			if !yield(fh, nil) {
				return
			}
		}
	}
}

// DecodeCentralDirectory is a convenient method to collect all Headers from an in-memory central directory.
func DecodeCentralDirectory(b []byte, optFns ...func(*Options)) ([]CDFileHeader, error) {
	headers := make([]CDFileHeader, 0)
	for fh, err := range Headers(bytes.NewReader(b), int64(len(b)), optFns...) {
		if err != nil {
			return headers, err
		}

		headers = append(headers, fh)
	}

	return headers, nil
}

// skipToSignature discards bytes from br until the next bytes are sig.
//
// Returns the number of bytes discarded and io.EOF if sig was not found before the end of br.
func skipToSignature(br *bufio.Reader, sig Signature) (skipped int64, err error) {
	for {
		// peek only what is buffered unless that is too short to hold a signature.
		peekN := br.Buffered()
		if peekN < len(sig) {
			peekN = br.Size()
		}

		b, err := br.Peek(peekN)
		if i := Index(b, sig); i != -1 {
			n, _ := br.Discard(i)
			return skipped + int64(n), nil
		}

		if err != nil {
			return skipped, err
		}

		// keep the last 3 bytes since they may be the start of a signature.
		n, _ := br.Discard(len(b) - (len(sig) - 1))
		skipped += int64(n)
	}
}

// decodeCDFileHeader decodes the 46-byte fixed part b of the header found at pos, then reads its variable-size part
// from br.
//
// size is the size of the whole central directory. Returns the header and the length of its variable-size part.
func decodeCDFileHeader(br io.Reader, b [cdfhLen]byte, pos, size int64, opts *Options) (fh CDFileHeader, nmk int64, err error) {
	data := &fixedSizeCDFileHeader{}
	if err = binary.Read(bytes.NewReader(b[:]), binary.LittleEndian, data); err != nil {
		return fh, 0, &MalformedRecordError{Record: "CD file header", Offset: pos, Err: err}
	}

	fh = CDFileHeader{
		FileHeader: zip.FileHeader{
			CreatorVersion:     data.CreatorVersion,
			ReaderVersion:      data.ReaderVersion,
			Flags:              data.Flags,
			Method:             data.Method,
			Modified:           time.Time{},
			ModifiedTime:       data.ModifiedTime,
			ModifiedDate:       data.ModifiedDate,
			CRC32:              data.CRC32,
			CompressedSize:     data.CompressedSize,
			UncompressedSize:   data.UncompressedSize,
			CompressedSize64:   uint64(data.CompressedSize),
			UncompressedSize64: uint64(data.UncompressedSize),
			ExternalAttrs:      data.ExternalAttrs,
		},
		DiskNumber:    uint32(data.DiskNumber),
		InternalAttrs: data.InternalAttrs,
		Offset:        uint64(data.Offset),
		Position:      pos,
	}
	fh.Modified = msDosTimeToTime(fh.ModifiedDate, fh.ModifiedTime)

	n, m, k := int64(data.FileNameLength), int64(data.ExtraFieldLength), int64(data.FileCommentLength)
	remaining := size - pos - cdfhLen
	switch {
	case n > remaining:
		return fh, 0, &MalformedRecordError{
			Record: "CD file header",
			Offset: pos,
			Err:    fmt.Errorf("file name length %d exceeds remaining %d bytes", n, remaining),
		}
	case n+m+k > remaining:
		return fh, 0, &MalformedRecordError{
			Record: "CD file header",
			Offset: pos,
			Err:    fmt.Errorf("variable-size data length %d (name %d, extra %d, comment %d) exceeds remaining %d bytes", n+m+k, n, m, k, remaining),
		}
	}

	nmk = n + m + k
	vb := make([]byte, nmk)
	switch readN, err := io.ReadFull(br, vb); {
	case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
		return fh, 0, &MalformedRecordError{
			Record: "CD file header",
			Offset: pos,
			Err:    fmt.Errorf("insufficient variable-size data: need %d bytes, got %d", nmk, readN),
		}
	case err != nil:
		return fh, 0, fmt.Errorf("read CD file header variable-size data error: %w", err)
	}

	if fh.Name, err = decodeName(vb[:n], fh.Flags, opts.Charmap); err != nil {
		return fh, 0, &MalformedRecordError{Record: "CD file header", Offset: pos, Err: err}
	}
	fh.NonUTF8 = fh.Flags&utf8Flag == 0 && !utf8.Valid(vb[:n])
	fh.Extra = vb[n : n+m]
	if fh.Comment, err = decodeName(vb[n+m:], fh.Flags, opts.Charmap); err != nil {
		fh.Comment = string(vb[n+m:])
	}

	if err = fh.readZip64Extra(); err != nil {
		return fh, 0, &MalformedRecordError{Record: "CD file header", Offset: pos, Err: err}
	}

	return fh, nmk, nil
}

// decodeName decodes a file name or comment as UTF-8, falling back to cm only if the UTF-8 flag is clear.
func decodeName(b []byte, flags uint16, cm *charmap.Charmap) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}

	if cm == nil || flags&utf8Flag != 0 {
		return "", fmt.Errorf("invalid UTF-8 text %q", b)
	}

	return cm.NewDecoder().String(string(b))
}

// readZip64Extra replaces the 0xffffffff sizes and offset (and 0xffff disk number) with their 64-bit values from the
// ZIP64 extended information extra field.
//
// The 64-bit values appear in the extra field in a fixed order, and only if the corresponding header field is
// saturated. Other extra fields are skipped, and parsing stops at the first one whose declared size runs past the end
// of the extra data.
func (fh *CDFileHeader) readZip64Extra() error {
	needUSize := fh.UncompressedSize == uint32max
	needCSize := fh.CompressedSize == uint32max
	needOffset := fh.Offset == uint32max
	needDisk := fh.DiskNumber == uint16max

	for extra := fh.Extra; len(extra) >= 4; {
		tag := binary.LittleEndian.Uint16(extra[:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		if 4+size > len(extra) {
			// a truncated field ends parsing; only a truncated ZIP64 field may still supply the values it has.
			if tag != zip64ExtraID {
				break
			}

			size = len(extra) - 4
		}

		field := extra[4 : 4+size]
		extra = extra[4+size:]
		if tag != zip64ExtraID {
			continue
		}

		if needUSize {
			if len(field) < 8 {
				return errors.New("ZIP64 extra field is missing uncompressed size")
			}
			fh.UncompressedSize64, field = binary.LittleEndian.Uint64(field[:8]), field[8:]
		}
		if needCSize {
			if len(field) < 8 {
				return errors.New("ZIP64 extra field is missing compressed size")
			}
			fh.CompressedSize64, field = binary.LittleEndian.Uint64(field[:8]), field[8:]
		}
		if needOffset {
			if len(field) < 8 {
				return errors.New("ZIP64 extra field is missing local header offset")
			}
			fh.Offset, field = binary.LittleEndian.Uint64(field[:8]), field[8:]
		}
		if needDisk {
			if len(field) < 4 {
				return errors.New("ZIP64 extra field is missing disk number")
			}
			fh.DiskNumber = binary.LittleEndian.Uint32(field[:4])
		}

		return nil
	}

	return nil
}
