package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	in := `parameter,value,timestamp
latency_ms,120.5,2026-04-30T23:59:00Z
latency_ms, 99,1777593540
cpu,0.75,
`
	got, err := ReadCSV(strings.NewReader(in), func() time.Time { return now })
	require.NoError(t, err)
	require.Len(t, got["latency_ms"], 2)
	assert.Equal(t, 120.5, got["latency_ms"][0].Value)
	assert.Equal(t, time.Date(2026, 4, 30, 23, 59, 0, 0, time.UTC), got["latency_ms"][0].Timestamp)
	assert.Equal(t, int64(1777593540), got["latency_ms"][1].Timestamp.Unix())
	require.Len(t, got["cpu"], 1)
	assert.Equal(t, now, got["cpu"][0].Timestamp)
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct{ name, in string }{
		{"short row", "cpu\n"},
		{"bad value", "cpu,high\n"},
		{"bad timestamp", "cpu,1,yesterday\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in), time.Now)
			assert.Error(t, err)
		})
	}
}
