package scan

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Signature is the 4-byte magic marker that starts a ZIP structure, in on-disk (little-endian) order.
type Signature [4]byte

const (
	cdfhSig      = 0x02014b50
	eocdSig      = 0x06054b50
	eocd64Sig    = 0x06064b50
	eocd64LocSig = 0x07064b50
)

var (
	// CDFileHeaderSignature starts every central directory file header ("PK\x01\x02").
	CDFileHeaderSignature = putUint32(cdfhSig)
	// EOCDSignature starts the end of central directory record ("PK\x05\x06").
	EOCDSignature = putUint32(eocdSig)
	// EOCD64Signature starts the ZIP64 end of central directory record ("PK\x06\x06").
	EOCD64Signature = putUint32(eocd64Sig)
	// EOCD64LocatorSignature starts the ZIP64 end of central directory locator ("PK\x06\x07").
	EOCD64LocatorSignature = putUint32(eocd64LocSig)
)

const (
	// eocdLen is the size of the fixed part of the EOCD record.
	eocdLen = 22
	// eocd64Len is the size of the fixed part of the EOCD64 record.
	eocd64Len = 56
	// eocd64LocLen is the size of the EOCD64 locator.
	eocd64LocLen = 20
	// cdfhLen is the size of the fixed part of a central directory file header.
	cdfhLen = 46

	// zip64ExtraID is the header ID of the ZIP64 extended information extra field.
	zip64ExtraID = 0x0001
	// utf8Flag is general purpose bit 11, set when name and comment are UTF-8.
	utf8Flag = 0x800

	uint16max = 0xffff
	uint32max = 0xffffffff
)

func putUint32(v uint32) (s Signature) {
	binary.LittleEndian.PutUint32(s[:], v)
	return s
}

func (s Signature) String() string {
	return fmt.Sprintf("0x%08x", binary.LittleEndian.Uint32(s[:]))
}

// MalformedRecordError is returned when a fixed-size record cannot be decoded from the available bytes, or when the
// variable-size part of a record (such as a file name) has an invalid declared length or encoding.
type MalformedRecordError struct {
	// Record names the structure being decoded, e.g. "EOCD" or "CD file header".
	Record string
	// Offset is the position of the record within the buffer or stream being decoded.
	Offset int64
	Err    error
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s at offset %d: %v", e.Record, e.Offset, e.Err)
}

// msDosTimeToTime converts an MS-DOS date and time into a time.Time.
// The resolution is 2s.
// See: https://learn.microsoft.com/en-us/windows/win32/api/winbase/nf-winbase-dosdatetimetofiletime
//
// taken from https://go.dev/src/archive/zip/struct.go.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0, // nanoseconds

		time.UTC,
	)
}
