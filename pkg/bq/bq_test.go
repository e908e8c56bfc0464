package bq

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/ericvolp12/rental-monitor/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInserter struct {
	batches [][]*Record
}

func (f *fakeInserter) Put(ctx context.Context, src interface{}) error {
	f.batches = append(f.batches, src.([]*Record))
	return nil
}

func testEvent(t *testing.T, id string) events.Event {
	t.Helper()
	evt, err := events.Parse(events.KindStreamCreated, []byte(`{"id":"`+id+`","timestamp":1704067200,"contract":"PaymentStream","blockNumber":5,"streamId":"s1","deposit":"100"}`))
	require.NoError(t, err)
	return evt
}

func newTestBQ(bufSize, batchSize int) (*BQ, *fakeInserter) {
	ins := &fakeInserter{}
	return &BQ{
		tablePrefix: "test_events",
		tableDate:   time.Now().Format("20060102"),
		inserter:    ins,
		recordBuf:   make(chan *Record, bufSize),
		batchSize:   batchSize,
	}, ins
}

func TestSchema(t *testing.T) {
	schema, err := bigquery.InferSchema(Record{})
	require.NoError(t, err)

	names := make([]string, 0, len(schema))
	for _, f := range schema {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"received_at", "event_id", "kind", "contract", "block_number", "tx_hash", "timestamp", "raw"}, names)
}

func TestInsertBatches(t *testing.T) {
	bq, ins := newTestBQ(10, 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, bq.Enqueue(ctx, testEvent(t, id)))
	}

	require.NoError(t, bq.insertRecords(ctx))
	require.NoError(t, bq.insertRecords(ctx))
	require.NoError(t, bq.insertRecords(ctx))

	require.Len(t, ins.batches, 2)
	assert.Len(t, ins.batches[0], 2)
	assert.Len(t, ins.batches[1], 1)

	r := ins.batches[0][0]
	assert.Equal(t, "a", r.EventID)
	assert.Equal(t, "StreamCreated", r.Kind)
	assert.Equal(t, int64(1704067200), r.Timestamp.Unix())
	assert.True(t, r.Raw.Valid)
	assert.Contains(t, r.Raw.JSONVal, `"streamId":"s1"`)
}

func TestMillisecondTimestamps(t *testing.T) {
	evt, err := events.Parse(events.KindStreamCreated, []byte(`{"id":"ms","timestamp":1704067200000,"contract":"PaymentStream","streamId":"s1","deposit":"100"}`))
	require.NoError(t, err)

	r, err := NewRecord(evt, time.Now())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), r.Timestamp)

	r, err = NewRecord(testEvent(t, "s"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), r.Timestamp)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	bq, _ := newTestBQ(1, 10)
	ctx := context.Background()

	require.NoError(t, bq.Enqueue(ctx, testEvent(t, "a")))
	assert.Error(t, bq.Enqueue(ctx, testEvent(t, "b")))
}
