package snapshot

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

// WriteReport renders rows in the listsnapshots format.
func WriteReport(w io.Writer, rows []SnapshotDetails) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "There are no snapshots")
		return err
	}
	if _, err := fmt.Fprintln(w, "Snapshot Details: "); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Snapshot name", "Keyspace name", "Column family name", "True size", "Size on disk", "Creation time", "Expiration time")

	var total uint64
	for _, r := range rows {
		expires := ""
		if r.ExpiresAt != nil {
			expires = r.ExpiresAt.UTC().Format(time.RFC3339)
		}
		_ = table.Append([]string{
			r.Tag,
			r.Keyspace,
			r.Table,
			humanize.IBytes(uint64(r.TrueSize)),
			humanize.IBytes(uint64(r.Size)),
			r.CreatedAt.UTC().Format(time.RFC3339),
			expires,
		})
		total += uint64(r.TrueSize)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render snapshot table: %w", err)
	}

	_, err := fmt.Fprintf(w, "\nTotal TrueDiskSpaceUsed: %s\n\n", humanize.IBytes(total))
	return err
}
