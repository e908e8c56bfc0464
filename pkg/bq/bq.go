package bq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/ericvolp12/rental-monitor/pkg/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// putter is the part of *bigquery.Inserter the sink uses.
type putter interface {
	Put(ctx context.Context, src interface{}) error
}

// BQ streams ingested events into a daily BigQuery table.
type BQ struct {
	logger       *slog.Logger
	recordSchema bigquery.Schema
	client       *bigquery.Client
	dataset      *bigquery.Dataset

	tablePrefix string

	tableDate string
	inserter  putter

	recordBuf chan *Record
	batchSize int
}

var tracer = otel.Tracer("bq")

func NewBQ(
	ctx context.Context,
	projectID string,
	dataset string,
	tablePrefix string,
	logger *slog.Logger,
) (*BQ, error) {
	recordSchema, err := bigquery.InferSchema(Record{})
	if err != nil {
		return nil, fmt.Errorf("failed to infer schema: %w", err)
	}

	bqClient, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}

	bqDataset := bqClient.Dataset(dataset)

	if _, err := bqDataset.Metadata(ctx); err != nil {
		return nil, fmt.Errorf("failed to get dataset metadata, make sure to create it if it doesn't exist: %w", err)
	}

	return &BQ{
		recordSchema: recordSchema,
		client:       bqClient,
		dataset:      bqDataset,
		logger:       logger.With("module", "bq"),
		tablePrefix:  tablePrefix,
		recordBuf:    make(chan *Record, 100_000),
		batchSize:    10_000,
	}, nil
}

// Run inserts buffered records every five seconds until ctx is done, then
// makes one last insert with a fresh context.
func (bq *BQ) Run(ctx context.Context) {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := bq.insertRecords(flushCtx); err != nil {
				bq.logger.Error("failed to insert records on shutdown", "error", err)
			}
			cancel()
			return
		case <-t.C:
			if err := bq.insertRecords(ctx); err != nil {
				bq.logger.Error("failed to insert records", "error", err)
			}
		}
	}
}

// Enqueue buffers evt for the next insert. Events are dropped when the
// buffer is full.
func (bq *BQ) Enqueue(ctx context.Context, evt events.Event) error {
	ctx, span := tracer.Start(ctx, "Enqueue")
	defer span.End()

	span.SetAttributes(
		attribute.String("kind", string(evt.Kind)),
		attribute.String("id", evt.ID),
		attribute.Int64("block_number", int64(evt.BlockNumber)),
	)

	record, err := NewRecord(evt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to build bigquery record: %w", err)
	}

	select {
	case bq.recordBuf <- record:
	default:
		recordsDropped.WithLabelValues(bq.tablePrefix).Inc()
		return fmt.Errorf("bigquery buffer full, dropped %s", evt.Key())
	}

	recordsProcessed.WithLabelValues(bq.tablePrefix).Inc()
	queueDepth.WithLabelValues(bq.tablePrefix).Inc()

	return nil
}

// drain takes up to max records without blocking.
func drain(buf <-chan *Record, max int) []*Record {
	records := make([]*Record, 0, max)
	for len(records) < max {
		select {
		case record := <-buf:
			records = append(records, record)
		default:
			return records
		}
	}
	return records
}

func (bq *BQ) insertRecords(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "insertRecords")
	defer span.End()

	// Create table if it doesn't exist
	if err := bq.CreateTableIfNotExists(ctx); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	records := drain(bq.recordBuf, bq.batchSize)
	queueDepth.WithLabelValues(bq.tablePrefix).Sub(float64(len(records)))

	// If there are no records, return early
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		batchSubmissionDuration.WithLabelValues(bq.tablePrefix).Observe(float64(elapsed.Milliseconds()))
		batchSizeHist.WithLabelValues(bq.tablePrefix).Observe(float64(len(records)))
	}()

	// Insert the records
	if err := bq.inserter.Put(ctx, records); err != nil {
		return fmt.Errorf("failed to insert records: %w", err)
	}

	return nil
}

func (bq *BQ) CreateTableIfNotExists(ctx context.Context) error {
	today := time.Now().Format("20060102")

	if bq.tableDate == today && bq.inserter != nil {
		return nil
	}

	table := bq.dataset.Table(fmt.Sprintf("%s_%s", bq.tablePrefix, today))
	_, err := table.Metadata(ctx)
	if err != nil {
		bq.logger.Info("table does not exist, creating", "table", table.FullyQualifiedName())
		if err := table.Create(ctx, &bigquery.TableMetadata{Schema: bq.recordSchema}); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	bq.inserter = table.Inserter()
	bq.tableDate = today

	return nil
}

func (bq *BQ) Close() error {
	return bq.client.Close()
}
