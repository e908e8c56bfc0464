package source_test

import (
	"encoding/json"
	"testing"

	"github.com/ericvolp12/rental-monitor/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampDecoding(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want source.Timestamp
	}{
		{"number", `1704067200`, 1704067200},
		{"bigint string", `"1704067200"`, 1704067200},
		{"milliseconds", `"1704067200000"`, 1704067200},
		{"formatted date", `"2024-01-01T00:00:00Z"`, 1704067200},
		{"null", `null`, 0},
		{"empty", `""`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts source.Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.in), &ts))
			assert.Equal(t, tt.want, ts)
		})
	}

	var ts source.Timestamp
	err := json.Unmarshal([]byte(`"next tuesday-ish"`), &ts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timestamp")
}
