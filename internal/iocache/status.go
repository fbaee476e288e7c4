package iocache

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// statusTimeFormat is the layout used for timestamps in status output.
const statusTimeFormat = "2006-01-02 15:04:05"

// PrintCacheStatus prints cache status information, one table row per named cache.
func PrintCacheStatus(w io.Writer, status schema.CacheStatus, current string, useColors bool) error {
	if _, err := fmt.Fprintf(w, "Cache Backend: %s\n", status.Backend); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Connected: %t\n", status.Connected); err != nil {
		return err
	}
	if !status.Connected {
		return nil
	}
	if _, err := fmt.Fprintf(w, "Total Entries: %d\n", status.TotalEntries); err != nil {
		return err
	}
	if status.TotalEntries > 0 {
		if _, err := fmt.Fprintf(w, "Last Entry: %s\n", status.LastEntryTime.Format(statusTimeFormat)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "Oldest Entry: %s\n", status.OldestEntryTime.Format(statusTimeFormat)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "Table Size: %s\n", humanize.Bytes(uint64(max(status.TableSizeBytes, 0)))); err != nil {
		return err
	}
	if len(status.Caches) == 0 {
		_, err := fmt.Fprintln(w, "No caches have been created yet.")
		return err
	}

	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()
	table.Header([]string{"Cache", "Generation", "Entries", "Body Size", "Created"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, c := range status.Caches {
		data = append(data, []string{
			c.Name,
			contract.GetCacheLabel(c.Name, current, useColors),
			strconv.Itoa(c.Entries),
			humanize.Bytes(uint64(max(c.BodyBytes, 0))),
			c.CreatedAt.Format(statusTimeFormat),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}
