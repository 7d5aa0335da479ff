package shape

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/lox/loadscale/internal/fsutil"
	"github.com/lox/loadscale/internal/models"
)

// Write serializes t to path with the column order it was read with,
// gzip-compressed. The file is replaced atomically.
func Write(path string, t *models.LoadTable) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		zw, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
		if err != nil {
			return fmt.Errorf("gzip writer: %w", err)
		}
		if err := Encode(zw, t); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("close gzip: %w", err)
		}
		return nil
	})
}

// Encode writes t as uncompressed CSV.
func Encode(w io.Writer, t *models.LoadTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	stateIdx := make(map[string]int, len(t.States))
	for i, s := range t.States {
		stateIdx[s] = i
	}

	rec := make([]string, len(t.Header))
	for _, r := range t.Rows {
		for i, col := range t.Header {
			switch col {
			case models.ColSector:
				rec[i] = r.Sector
			case models.ColSubsector:
				rec[i] = r.Subsector
			case models.ColWeatherDatetime:
				rec[i] = r.WeatherDatetime
			default:
				rec[i] = FormatValue(r.Values[stateIdx[col]])
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// FormatValue renders v with the fewest digits that parse back to v.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
