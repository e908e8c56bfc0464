package parq

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/events"
	"github.com/ericvolp12/rental-monitor/pkg/format"
	"github.com/parquet-go/parquet-go"
)

type Record struct {
	ReceivedAt  int64  `parquet:"received_at"`
	EventID     string `parquet:"event_id"`
	Kind        string `parquet:"kind"`
	Contract    string `parquet:"contract"`
	BlockNumber int64  `parquet:"block_number"`
	TxHash      string `parquet:"tx_hash"`
	Timestamp   int64  `parquet:"timestamp"` // unix ms
	Raw         string `parquet:"raw"`
}

// NewRecord flattens evt into an archive row.
func NewRecord(evt events.Event, receivedAt time.Time) (*Record, error) {
	raw, err := evt.Data()
	if err != nil {
		return nil, err
	}
	return &Record{
		ReceivedAt:  receivedAt.UnixMilli(),
		EventID:     evt.ID,
		Kind:        string(evt.Kind),
		Contract:    evt.Contract,
		BlockNumber: int64(evt.BlockNumber),
		TxHash:      evt.TxHash,
		Timestamp:   format.Timestamp(evt.Timestamp).UnixMilli(),
		Raw:         string(raw),
	}, nil
}

// Archive batches events into parquet files.
type Archive struct {
	logger       *slog.Logger
	fileDir      string
	prefix       string
	writeQueue   chan *Record
	shutdown     chan struct{}
	wg           sync.WaitGroup
	batchSize    int
	maxBatchWait time.Duration
}

func NewArchive(logger *slog.Logger, fileDir, prefix string, batchSize int, maxBatchWait time.Duration) (*Archive, error) {
	if batchSize < 1 {
		batchSize = 1000
	}
	if maxBatchWait <= 0 {
		maxBatchWait = time.Minute
	}

	p := Archive{
		logger:       logger.With("module", "parq"),
		fileDir:      fileDir,
		prefix:       prefix,
		batchSize:    batchSize,
		maxBatchWait: maxBatchWait,
		writeQueue:   make(chan *Record, batchSize*2),
		shutdown:     make(chan struct{}),
	}

	// Make sure the file directory exists
	err := os.MkdirAll(fileDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file directory: %w", err)
	}

	return &p, nil
}

// StartWriter writes a file when the batch fills, every maxBatchWait, and
// once more on shutdown.
func (p *Archive) StartWriter() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		var records []*Record
		t := time.NewTicker(p.maxBatchWait)
		defer t.Stop()

		p.logger.Info("starting parquet writer loop")

		flush := func(reason string) {
			if len(records) == 0 {
				return
			}
			p.logger.Info("writing parquet file", "reason", reason, "num_records", len(records))
			if _, err := p.WriteFile(records); err != nil {
				p.logger.Error("failed to write parquet file", "error", err)
			}
			records = nil
		}

		for {
			select {
			case r := <-p.writeQueue:
				records = append(records, r)
				if len(records) >= p.batchSize {
					flush("max batch size")
				}
			case <-t.C:
				flush("max batch wait")
			case <-p.shutdown:
				p.logger.Info("shutting down parquet writer")
			drain:
				for {
					select {
					case r := <-p.writeQueue:
						records = append(records, r)
					default:
						break drain
					}
				}
				flush("shutdown")
				return
			}
		}
	}()
}

// Shutdown flushes pending records and waits for the writer to exit.
func (p *Archive) Shutdown() {
	p.logger.Info("waiting for parquet writer to shutdown")
	close(p.shutdown)
	p.wg.Wait()
	p.logger.Info("parquet writer shutdown successfully")
}

// Enqueue queues evt for the next file. It blocks while the queue is full.
func (p *Archive) Enqueue(evt events.Event) error {
	r, err := NewRecord(evt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to build parquet record: %w", err)
	}
	p.writeQueue <- r
	recordsQueued.Inc()
	return nil
}

// WriteFile writes records to a new file named after the current time and
// returns its path.
func (p *Archive) WriteFile(records []*Record) (string, error) {
	fName := path.Join(p.fileDir, fmt.Sprintf("%s_%s.parquet", p.prefix, time.Now().UTC().Format("2006_01_02-15_04_05.000")))
	if err := WriteFile(fName, records); err != nil {
		return "", err
	}
	filesWritten.Inc()
	p.logger.Info("wrote parquet file", "file_path", fName)
	return fName, nil
}

// WriteFile writes records to fName with bloom filters on the lookup columns.
func WriteFile(fName string, records []*Record) error {
	filterBits := uint(10)

	err := parquet.WriteFile(fName, records, parquet.BloomFilters(
		parquet.SplitBlockFilter(filterBits, "event_id"),
		parquet.SplitBlockFilter(filterBits, "kind"),
		parquet.SplitBlockFilter(filterBits, "contract"),
		parquet.SplitBlockFilter(filterBits, "tx_hash"),
	))
	if err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}
	return nil
}
