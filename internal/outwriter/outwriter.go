// Package outwriter has output and writer logic.
package outwriter

import (
	"os"

	"github.com/nutrifyke/offlinecache/schema"
	"golang.org/x/term"
)

// OutWriter provides a unified interface for all output operations.
// It encapsulates the various output formats and provides a clean API for the core logic.
type OutWriter struct {
	width int // Terminal width override, 0 means detect
}

// NewOutWriter creates a new instance of the output writer.
func NewOutWriter(width int) *OutWriter {
	return &OutWriter{width: width}
}

// WriteEntries prints cache entry metadata using the requested output format.
func (ow *OutWriter) WriteEntries(records []schema.CacheEntryRecord, mode schema.OutputMode, outputFile string) error {
	return WriteCacheEntries(records, mode, outputFile, GetMaxTableURLWidth(ow.width))
}

// GetMaxTableURLWidth calculates the maximum width for URLs in table output
// based on terminal width and the fixed columns of the entry table.
func GetMaxTableURLWidth(override int) int {
	termWidth := override

	if termWidth <= 0 { // Not set by override
		// Get terminal width
		detectedWidth, _, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil || detectedWidth <= 0 {
			// Fallback to conservative default if terminal size can't be detected
			termWidth = 80 // Conservative default for narrow terminals and CI
		} else {
			termWidth = detectedWidth
		}
	}

	// Cache + Status + Type + Bytes with borders/padding
	baseWidth := 60

	// Calculate available space for the URL
	available := termWidth - baseWidth
	if available < 20 {
		return 20
	}
	if available > 80 {
		return 80
	}
	return available
}
