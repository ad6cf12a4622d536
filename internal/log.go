package internal

import (
	"fmt"
	"log"
	"os"
	"path"
)

// Prefix creates a consistent log prefix from the last path segment of the given URL.
func Prefix(url string) string {
	return fmt.Sprintf(`"%s" - `, TruncateRightWithSuffix(path.Base(url), 30, "..."))
}

// NewLogger creates a new stderr logger whose prefix is Prefix(url).
func NewLogger(url string) *log.Logger {
	return log.New(os.Stderr, Prefix(url), 0)
}
