package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount(t *testing.T) {
	tests := []struct {
		wei  string
		want string
	}{
		{wei: "1000000000000000000", want: "1"},
		{wei: "1250000000000000000", want: "1.25"},
		{wei: "123456789000000000", want: "0.1234"},
		{wei: "", want: "0"},
		{wei: "0", want: "0"},
	}
	for _, tt := range tests {
		got, err := Amount(tt.wei, TokenDecimals)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.wei)
	}

	_, err := Amount("12abc", TokenDecimals)
	assert.Error(t, err)
}

func TestTimestampUnits(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, Timestamp(1704067200))
	assert.Equal(t, want, Timestamp(1704067200000))
}

func TestParse(t *testing.T) {
	got, err := Parse("2024-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1704067200), got.Unix())

	_, err = Parse("not a date")
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 3*24*time.Hour + 4*time.Hour, want: "3d 4h"},
		{in: 48 * time.Hour, want: "2d"},
		{in: 2*time.Hour + 15*time.Minute, want: "2h 15m"},
		{in: time.Hour, want: "1h"},
		{in: 45 * time.Minute, want: "45m"},
		{in: 30 * time.Second, want: "30s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Duration(tt.in))
	}
}

func TestTimeAgo(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", TimeAgo(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", TimeAgo(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", TimeAgo(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2d ago", TimeAgo(now.Add(-49*time.Hour), now))
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "0x5aAe...eAed", ShortAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.Equal(t, "RentalMarket", ShortAddress("RentalMarket"))
}
