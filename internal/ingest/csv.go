package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/viniciushammett/threshold-learner/internal/learner"
)

// ReadCSV parses rows of parameter,value[,timestamp] grouped by parameter.
// The timestamp is RFC3339 or unix seconds; an empty one means now. A header
// row starting with "parameter" is skipped.
func ReadCSV(r io.Reader, now func() time.Time) (map[string][]learner.Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	out := map[string][]learner.Sample{}
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(rec[0], "parameter") {
			continue
		}
		if len(rec) < 2 || rec[0] == "" {
			return nil, fmt.Errorf("line %d: want parameter,value[,timestamp]", line)
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: value: %w", line, err)
		}
		ts := now()
		if len(rec) > 2 && rec[2] != "" {
			if ts, err = parseTimestamp(rec[2]); err != nil {
				return nil, fmt.Errorf("line %d: timestamp: %w", line, err)
			}
		}
		out[rec[0]] = append(out[rec[0]], learner.Sample{Value: v, Timestamp: ts})
	}
}

func parseTimestamp(s string) (time.Time, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
