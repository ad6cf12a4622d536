package zipsniper

import (
	"fmt"
)

// SignatureNotFoundError is returned if no end of central directory record was found in the tail of the archive.
//
// Usually this means the archive comment is longer than the comment buffer, so retrying with a larger
// [Options.CommentBuffer] may help. It can also mean the remote object is not a ZIP file.
type SignatureNotFoundError struct {
	// BufferSize is the comment buffer that was used.
	BufferSize int64
}

func (e *SignatureNotFoundError) Error() string {
	return fmt.Sprintf("end of central directory not found in the last %d bytes; try again with a larger comment buffer", e.BufferSize)
}

// IncompleteDirectoryListError is returned if the number of central directory file headers that were decoded does not
// match the count declared by the end of central directory record.
type IncompleteDirectoryListError struct {
	Expected uint64
	Found    uint64
}

func (e *IncompleteDirectoryListError) Error() string {
	return fmt.Sprintf("incomplete directory listing: expected %d entries, found %d", e.Expected, e.Found)
}
