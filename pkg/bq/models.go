package bq

import (
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/ericvolp12/rental-monitor/pkg/events"
	"github.com/ericvolp12/rental-monitor/pkg/format"
)

type Record struct {
	ReceivedAt time.Time `bigquery:"received_at"`

	EventID     string            `bigquery:"event_id"`
	Kind        string            `bigquery:"kind"`
	Contract    string            `bigquery:"contract"`
	BlockNumber int64             `bigquery:"block_number"`
	TxHash      string            `bigquery:"tx_hash"`
	Timestamp   time.Time         `bigquery:"timestamp"`
	Raw         bigquery.NullJSON `bigquery:"raw"`
}

// NewRecord flattens evt into a table row.
func NewRecord(evt events.Event, receivedAt time.Time) (*Record, error) {
	raw, err := evt.Data()
	if err != nil {
		return nil, err
	}
	return &Record{
		ReceivedAt:  receivedAt,
		EventID:     evt.ID,
		Kind:        string(evt.Kind),
		Contract:    evt.Contract,
		BlockNumber: int64(evt.BlockNumber),
		TxHash:      evt.TxHash,
		Timestamp:   format.Timestamp(evt.Timestamp),
		Raw:         bigquery.NullJSON{JSONVal: string(raw), Valid: true},
	}, nil
}
