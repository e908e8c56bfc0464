package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ericvolp12/rental-monitor/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evt(kind events.Kind, id string, ts int64) events.Event {
	return events.Event{ID: id, Kind: kind, Timestamp: ts, Contract: "RentalMarket"}
}

func ids(buf []events.Event) []string {
	out := make([]string, len(buf))
	for i, e := range buf {
		out[i] = e.ID
	}
	return out
}

func TestPushPrependsInArrivalOrder(t *testing.T) {
	var buf []events.Event
	buf = Push(buf, evt(events.KindNFTRented, "a", 300), 10)
	buf = Push(buf, evt(events.KindNFTRented, "b", 100), 10)
	buf = Push(buf, evt(events.KindNFTRented, "c", 200), 10)

	// timestamps are out of order on purpose; arrival order wins
	assert.Equal(t, []string{"c", "b", "a"}, ids(buf))
}

func TestPushDedupsByKindAndID(t *testing.T) {
	var buf []events.Event
	buf = Push(buf, evt(events.KindNFTRented, "1", 1), 10)
	buf = Push(buf, evt(events.KindNFTRented, "1", 2), 10)
	require.Len(t, buf, 1)
	assert.Equal(t, int64(1), buf[0].Timestamp)

	// same id under another kind is a different event
	buf = Push(buf, evt(events.KindRentalCompleted, "1", 3), 10)
	assert.Len(t, buf, 2)
}

func TestPushDoesNotMutateInput(t *testing.T) {
	orig := []events.Event{evt(events.KindNFTRented, "x", 1), evt(events.KindNFTRented, "y", 2)}
	snapshot := append([]events.Event(nil), orig...)

	out := Push(orig, evt(events.KindNFTRented, "z", 3), 2)

	assert.Equal(t, snapshot, orig)
	assert.Equal(t, []string{"z", "x"}, ids(out))
}

func TestPushCapInvariant(t *testing.T) {
	const cap = 5
	var buf []events.Event
	for i := 0; i < 50; i++ {
		buf = Push(buf, evt(events.KindNewBlock, fmt.Sprint(i), int64(i)), cap)
		require.LessOrEqual(t, len(buf), cap)
		if i >= cap {
			// the oldest arrival is the one that fell off
			assert.Equal(t, fmt.Sprint(i-cap+1), buf[len(buf)-1].ID)
			assert.Equal(t, fmt.Sprint(i), buf[0].ID)
		}
	}
}

func TestPushDefaultCap(t *testing.T) {
	var buf []events.Event
	for i := 0; i < DefaultCap+10; i++ {
		buf = Push(buf, evt(events.KindNewBlock, fmt.Sprint(i), int64(i)), 0)
	}
	assert.Len(t, buf, DefaultCap)
}

func TestBufferConcurrentAdd(t *testing.T) {
	b := New(100)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Add(evt(events.KindNFTRented, fmt.Sprintf("%d-%d", w, i), int64(i)))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 100, b.Len())

	assert.False(t, b.Add(b.Snapshot()[0]))

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Snapshot())
}
