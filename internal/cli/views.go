package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"chronolog/internal/core/entity"
	"chronolog/internal/domain/history"
)

// RecordView is the output form of a history record.
type RecordView struct {
	TransactionID int64          `json:"transaction_id"`
	Table         string         `json:"table"`
	EntityID      string         `json:"entity_id"`
	RevisionID    string         `json:"revision_id"`
	Actor         string         `json:"actor"`
	Timestamp     time.Time      `json:"timestamp"`
	Operation     string         `json:"operation"`
	Delta         *entity.Record `json:"delta"`
}

// TableView is the output form of a registered table.
type TableView struct {
	Table     string `json:"table"`
	IDField   string `json:"id_field"`
	Partition string `json:"partition"`
}

func toRecordViews(records []*history.Record) []RecordView {
	views := make([]RecordView, 0, len(records))
	for _, r := range records {
		views = append(views, RecordView{
			TransactionID: int64(r.TransactionID),
			Table:         r.Table,
			EntityID:      r.EntityID.String(),
			RevisionID:    r.RevisionID.String(),
			Actor:         r.Actor,
			Timestamp:     r.Timestamp,
			Operation:     string(r.Operation),
			Delta:         r.Delta,
		})
	}
	return views
}

func toTableView(t history.Table) TableView {
	return TableView{Table: t.Name, IDField: t.IDField, Partition: t.Partition}
}

// writeRecords renders records as an aligned table, one row per record.
func writeRecords(w io.Writer, views []RecordView) error {
	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "No history records found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REVISION\tTIMESTAMP\tOP\tTABLE\tENTITY\tACTOR\tTX\tDELTA")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			v.RevisionID,
			v.Timestamp.Format(time.RFC3339Nano),
			v.Operation,
			v.Table,
			v.EntityID,
			v.Actor,
			v.TransactionID,
			formatDelta(v.Delta),
		)
	}
	return tw.Flush()
}

func formatDelta(d *entity.Record) string {
	if d.Len() == 0 {
		return "{}"
	}
	data, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
