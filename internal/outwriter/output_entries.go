package outwriter

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/nutrifyke/offlinecache/internal/parquet"
	"github.com/nutrifyke/offlinecache/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// entryCSVHeader is shared by the CSV writer and its tests.
var entryCSVHeader = []string{"cache_name", "url", "status", "content_type", "body_bytes", "stored_at"}

// WriteCacheEntries writes records as text, csv, json or parquet.
// Parquet needs a file path; the other formats default to stdout.
func WriteCacheEntries(records []schema.CacheEntryRecord, mode schema.OutputMode, outputFile string, urlWidth int) error {
	switch mode {
	case schema.ParquetOut:
		if outputFile == "" {
			return fmt.Errorf("--output-file is required for parquet export")
		}
		if err := parquet.WriteCacheEntriesParquet(parquet.ConvertCacheEntryRecords(records), outputFile); err != nil {
			return fmt.Errorf("failed to write cache entries: %w", err)
		}
		fmt.Fprintf(os.Stderr, "💾 Exported %d cache entries to %s\n", len(records), outputFile)
		return nil

	case schema.JSONOut:
		return writeWithFile(outputFile, func(w io.Writer) error {
			return writeJSON(w, records)
		}, "Wrote JSON")

	case schema.CSVOut:
		return writeWithFile(outputFile, func(w io.Writer) error {
			return writeCSVResultsForEntries(w, records)
		}, "Wrote CSV")

	case schema.TextOut:
		return writeWithFile(outputFile, func(w io.Writer) error {
			return writeEntryTable(w, records, urlWidth)
		}, "Wrote table")

	default:
		return fmt.Errorf("unsupported export format: %s", mode)
	}
}

// writeEntryTable renders one row per stored entry followed by a summary line.
func writeEntryTable(w io.Writer, records []schema.CacheEntryRecord, urlWidth int) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Cache", "URL", "Status", "Type", "Bytes"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	var data [][]string
	var totalBytes int64
	for _, r := range records {
		data = append(data, []string{
			r.CacheName,
			truncateURL(r.URL, urlWidth),
			strconv.Itoa(r.Status),
			r.ContentType,
			strconv.FormatInt(r.BodyBytes, 10),
		})
		totalBytes += r.BodyBytes
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Showing %d entries (total body bytes: %d)\n", len(records), totalBytes)
	return err
}

// writeCSVResultsForEntries writes one CSV row per entry with UTC timestamps.
func writeCSVResultsForEntries(w io.Writer, records []schema.CacheEntryRecord) error {
	return writeCSVWithHeader(w, entryCSVHeader, func(csvWriter *csv.Writer) error {
		for _, r := range records {
			row := []string{
				r.CacheName,
				r.URL,
				strconv.Itoa(r.Status),
				r.ContentType,
				strconv.FormatInt(r.BodyBytes, 10),
				r.StoredAt.UTC().Format(time.RFC3339),
			}
			if err := csvWriter.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV record: %w", err)
			}
		}
		return nil
	})
}
