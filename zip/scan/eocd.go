package scan

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Directory is the location and size of the central directory as declared by an EOCD record.
type Directory struct {
	// Offset is the start of the central directory, relative to start of archive.
	Offset uint64
	// Size is the size of the central directory in bytes.
	Size uint64
	// Count is the total number of central directory records.
	Count uint64
}

// EOCD is either an EOCDRecord or an EOCD64Record.
//
// The variant is decided by the signature found at the decoded position, never by the values of the size fields.
type EOCD interface {
	// Directory returns where the central directory is and how many records it has.
	Directory() Directory
	// Is64 is true for EOCD64Record.
	Is64() bool

	eocd()
}

// EOCDRecord models the end of central directory record of a ZIP file.
//
// See https://en.wikipedia.org/wiki/ZIP_(file_format)#End_of_central_directory_record_(EOCD).
type EOCDRecord struct {
	// DiskNumber is number of this disk (or 0xffff for ZIP64).
	DiskNumber uint16
	// CDDiskOffset is disk where central directory starts (or 0xffff for ZIP64).
	CDDiskOffset uint16
	// CDCountOnDisk is the number of central directory records on this disk (or 0xffff for ZIP64).
	CDCountOnDisk uint16
	// CDCount is the total number of central directory records (or 0xffff for ZIP64).
	CDCount uint16
	// CDSize is size of central directory (bytes) (or 0xffffffff for ZIP64).
	CDSize uint32
	// CDOffset is offset of start of central directory, relative to start of archive (or 0xffffffff for ZIP64).
	CDOffset uint32
	// Comment is the comment section of the EOCD.
	Comment string
}

func (r EOCDRecord) Directory() Directory {
	return Directory{Offset: uint64(r.CDOffset), Size: uint64(r.CDSize), Count: uint64(r.CDCount)}
}

func (r EOCDRecord) Is64() bool {
	return false
}

func (r EOCDRecord) eocd() {}

// EOCD64Record models the ZIP64 end of central directory record.
//
// See https://en.wikipedia.org/wiki/ZIP_(file_format)#ZIP64.
type EOCD64Record struct {
	// RecordSize is the size of the EOCD64 record minus 12.
	RecordSize     uint64
	CreatorVersion uint16
	ReaderVersion  uint16
	DiskNumber     uint32
	CDDiskOffset   uint32
	CDCountOnDisk  uint64
	CDCount        uint64
	CDSize         uint64
	CDOffset       uint64
}

func (r EOCD64Record) Directory() Directory {
	return Directory{Offset: r.CDOffset, Size: r.CDSize, Count: r.CDCount}
}

func (r EOCD64Record) Is64() bool {
	return true
}

func (r EOCD64Record) eocd() {}

// DecodeEOCD decodes the standard 22-byte EOCD record and its comment from the start of b.
func DecodeEOCD(b []byte) (r EOCDRecord, err error) {
	if len(b) < eocdLen {
		return r, &MalformedRecordError{
			Record: "EOCD",
			Err:    fmt.Errorf("insufficient data: need at least %d bytes, got %d", eocdLen, len(b)),
		}
	}

	data := &struct {
		Signature     uint32
		DiskNumber    uint16
		CDDiskOffset  uint16
		CDCountOnDisk uint16
		CDCount       uint16
		CDSize        uint32
		CDOffset      uint32
		CommentLength uint16
	}{}

	if !bytes.Equal(EOCDSignature[:], b[:4]) {
		return r, &MalformedRecordError{Record: "EOCD", Err: fmt.Errorf("mismatched signature, got 0x%x, expected 0x%x", b[:4], EOCDSignature[:])}
	}

	if err = binary.Read(bytes.NewReader(b[:eocdLen]), binary.LittleEndian, data); err != nil {
		return r, &MalformedRecordError{Record: "EOCD", Err: err}
	}

	r = EOCDRecord{
		DiskNumber:    data.DiskNumber,
		CDDiskOffset:  data.CDDiskOffset,
		CDCountOnDisk: data.CDCountOnDisk,
		CDCount:       data.CDCount,
		CDSize:        data.CDSize,
		CDOffset:      data.CDOffset,
	}

	if k := int(data.CommentLength); k > 0 {
		if eocdLen+k > len(b) {
			return r, &MalformedRecordError{
				Record: "EOCD",
				Err:    fmt.Errorf("insufficient comment data: need %d bytes, got %d", k, len(b)-eocdLen),
			}
		}

		r.Comment = string(b[eocdLen : eocdLen+k])
	}

	return r, nil
}

// DecodeEOCD64 decodes the 56-byte ZIP64 EOCD record from the start of b.
//
// The extensible data sector that may follow the fixed part is not decoded.
func DecodeEOCD64(b []byte) (r EOCD64Record, err error) {
	if len(b) < eocd64Len {
		return r, &MalformedRecordError{
			Record: "EOCD64",
			Err:    fmt.Errorf("insufficient data: need at least %d bytes, got %d", eocd64Len, len(b)),
		}
	}

	data := &struct {
		Signature      uint32
		RecordSize     uint64
		CreatorVersion uint16
		ReaderVersion  uint16
		DiskNumber     uint32
		CDDiskOffset   uint32
		CDCountOnDisk  uint64
		CDCount        uint64
		CDSize         uint64
		CDOffset       uint64
	}{}

	if !bytes.Equal(EOCD64Signature[:], b[:4]) {
		return r, &MalformedRecordError{Record: "EOCD64", Err: fmt.Errorf("mismatched signature, got 0x%x, expected 0x%x", b[:4], EOCD64Signature[:])}
	}

	if err = binary.Read(bytes.NewReader(b[:eocd64Len]), binary.LittleEndian, data); err != nil {
		return r, &MalformedRecordError{Record: "EOCD64", Err: err}
	}

	return EOCD64Record{
		RecordSize:     data.RecordSize,
		CreatorVersion: data.CreatorVersion,
		ReaderVersion:  data.ReaderVersion,
		DiskNumber:     data.DiskNumber,
		CDDiskOffset:   data.CDDiskOffset,
		CDCountOnDisk:  data.CDCountOnDisk,
		CDCount:        data.CDCount,
		CDSize:         data.CDSize,
		CDOffset:       data.CDOffset,
	}, nil
}

// FindEOCD locates and decodes the end of central directory record in tail, the last bytes of an archive.
//
// tailOffset is the position of tail[0] in the archive; it is needed to follow the ZIP64 locator which stores an
// absolute offset. Returns the record and its position within tail. If no record can be found, r is nil and pos is -1;
// that is not an error, it usually means tail is too short.
//
// The search goes backward from the end of tail. A standard EOCD candidate whose comment ends exactly at the end of
// tail is preferred, so that signature bytes inside the comment are skipped. If there is none, the last candidate whose
// comment fits in tail is used; this accepts archives with data appended after the comment. If the accepted record is
// preceded by a ZIP64 locator, the EOCD64 record it points to is returned instead. If there is no acceptable standard
// record, the last EOCD64 signature in tail is decoded.
func FindEOCD(tail []byte, tailOffset int64) (r EOCD, pos int, err error) {
	fallback := -1
	for i := lastIndexBefore(tail, EOCDSignature, len(tail)-eocdLen+1); i != -1; i = lastIndexBefore(tail, EOCDSignature, i) {
		k := int(binary.LittleEndian.Uint16(tail[i+20 : i+22]))
		switch end := i + eocdLen + k; {
		case end > len(tail):
			continue
		case end < len(tail):
			if fallback == -1 {
				fallback = i
			}
			continue
		}

		return decodeEOCDAt(tail, tailOffset, i)
	}

	if fallback != -1 {
		return decodeEOCDAt(tail, tailOffset, fallback)
	}

	if i := LastIndex(tail, EOCD64Signature); i != -1 {
		rec, err := DecodeEOCD64(tail[i:])
		if err != nil {
			err.(*MalformedRecordError).Offset = tailOffset + int64(i)
			return nil, -1, err
		}

		return rec, i, nil
	}

	return nil, -1, nil
}

// decodeEOCDAt decodes the standard EOCD record at tail[i:], following its ZIP64 locator if there is one.
func decodeEOCDAt(tail []byte, tailOffset int64, i int) (EOCD, int, error) {
	if j := i - eocd64LocLen; j >= 0 && bytes.Equal(tail[j:j+4], EOCD64LocatorSignature[:]) {
		return findEOCD64FromLocator(tail, tailOffset, j)
	}

	rec, err := DecodeEOCD(tail[i:])
	if err != nil {
		err.(*MalformedRecordError).Offset = tailOffset + int64(i)
		return nil, -1, err
	}

	return rec, i, nil
}

// findEOCD64FromLocator decodes the EOCD64 record that the locator at tail[j:] points to.
func findEOCD64FromLocator(tail []byte, tailOffset int64, j int) (EOCD, int, error) {
	// locator: signature(4), disk with EOCD64(4), EOCD64 offset(8), total number of disks(4).
	off := int64(binary.LittleEndian.Uint64(tail[j+8 : j+16]))

	i := off - tailOffset
	if i < 0 {
		// EOCD64 is before the tail; the caller needs a bigger tail.
		return nil, -1, nil
	}
	if i+eocd64Len > int64(j) {
		return nil, -1, &MalformedRecordError{
			Record: "EOCD64 locator",
			Offset: tailOffset + int64(j),
			Err:    fmt.Errorf("EOCD64 offset 0x%x overlaps the locator at 0x%x", off, tailOffset+int64(j)),
		}
	}

	rec, err := DecodeEOCD64(tail[i:j])
	if err != nil {
		err.(*MalformedRecordError).Offset = off
		return nil, -1, err
	}

	return rec, int(i), nil
}
