package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, ttl time.Duration) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(slog.New(slog.NewTextHandler(io.Discard, nil)), path, true, ttl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func rented(id string, ts int64, block uint64) events.Event {
	evt, err := events.Parse(events.KindNFTRented, []byte(fmt.Sprintf(
		`{"id":%q,"timestamp":%d,"contract":"RentalMarket","blockNumber":%d,"transactionHash":"0x%s","renter":"0xr","tokenId":"1","duration":60}`,
		id, ts, block, id,
	)))
	if err != nil {
		panic(err)
	}
	return evt
}

func TestRecordAndQuery(t *testing.T) {
	s, _ := openTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		inserted, err := s.Record(ctx, rented(fmt.Sprint(i), int64(1000+i), uint64(10+i)))
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	got, err := s.Events(ctx, Query{Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "4", got[0].ID)
	assert.Equal(t, "2", got[2].ID)
	assert.Equal(t, rented("4", 1004, 14), got[0])

	block := uint64(12)
	got, err = s.Events(ctx, Query{Block: &block})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	kind := events.KindNewBlock
	got, err = s.Events(ctx, Query{Kind: &kind})
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Equal(t, uint64(14), s.LastBlock())
}

func TestMixedTimestampUnitsOrder(t *testing.T) {
	s, _ := openTestStore(t, 0)
	ctx := context.Background()

	// an hour apart, the older one reported in milliseconds
	_, err := s.Record(ctx, rented("older-ms", 1704067200000, 1))
	require.NoError(t, err)
	_, err = s.Record(ctx, rented("newer-s", 1704070800, 2))
	require.NoError(t, err)

	got, err := s.Events(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "newer-s", got[0].ID)
	assert.Equal(t, "older-ms", got[1].ID)
	assert.Equal(t, int64(1704067200000), got[1].Timestamp)
}

func TestRecordIgnoresRedelivery(t *testing.T) {
	s, _ := openTestStore(t, 0)
	ctx := context.Background()

	inserted, err := s.Record(ctx, rented("dup", 1, 1))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Record(ctx, rented("dup", 1, 1))
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.Events(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCursorSurvivesReopen(t *testing.T) {
	s, path := openTestStore(t, 0)
	_, err := s.Record(context.Background(), rented("a", 1, 77))
	require.NoError(t, err)
	require.NoError(t, s.SaveCursor())
	require.NoError(t, s.Close())

	again, err := Open(slog.New(slog.NewTextHandler(io.Discard, nil)), path, true, 0)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, uint64(77), again.LastBlock())
}

func TestDeleteExpired(t *testing.T) {
	s, _ := openTestStore(t, time.Millisecond)
	ctx := context.Background()

	_, err := s.Record(ctx, rented("old", 1, 1))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Events(ctx, Query{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
