package cli

import (
	"encoding/json"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/eunmann/chunkagg/pkg/value"
)

const (
	timeLayout   = time.RFC3339
	timeRounding = time.Millisecond
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONLines(w io.Writer, rows []value.Row) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// formatFloat prints whole numbers without a fraction and everything else
// with up to four decimals.
func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(math.Round(f*1e4)/1e4, 'f', -1, 64)
}
