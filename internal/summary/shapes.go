package summary

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/lox/loadscale/internal/models"
	"github.com/lox/loadscale/internal/shape"
)

type shapeKey struct {
	datetime string
	state    string
	sector   string
}

func (k shapeKey) compare(o shapeKey) int {
	return cmp.Or(
		cmp.Compare(k.datetime, o.datetime),
		cmp.Compare(k.state, o.state),
		cmp.Compare(k.sector, o.sector),
	)
}

// Shapes is the hourly load of one year summed across subsectors, per
// (weather_datetime, state, sector).
type Shapes struct {
	totals map[shapeKey]float64
}

func BuildShapes(t *models.LoadTable) *Shapes {
	s := &Shapes{totals: make(map[shapeKey]float64)}
	for _, r := range t.Rows {
		for j, v := range r.Values {
			s.totals[shapeKey{datetime: r.WeatherDatetime, state: t.States[j], sector: r.Sector}] += v
		}
	}
	return s
}

// Total returns the summed load at one hour, state and sector.
func (s *Shapes) Total(datetime, state, sector string) (float64, bool) {
	v, ok := s.totals[shapeKey{datetime: datetime, state: state, sector: sector}]
	return v, ok
}

// EncodeShapes writes weather_datetime,state,sector followed by one column
// per year. Hours missing from a year are left blank.
func EncodeShapes(w io.Writer, byYear map[int]*Shapes) error {
	years := slices.Sorted(maps.Keys(byYear))

	keySet := make(map[shapeKey]bool)
	for _, s := range byYear {
		for k := range s.totals {
			keySet[k] = true
		}
	}
	keys := slices.SortedFunc(maps.Keys(keySet), shapeKey.compare)

	cw := csv.NewWriter(w)
	header := []string{models.ColWeatherDatetime, "state", models.ColSector}
	for _, y := range years {
		header = append(header, strconv.Itoa(y))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rec := make([]string, len(header))
	for _, k := range keys {
		rec[0], rec[1], rec[2] = k.datetime, k.state, k.sector
		for i, y := range years {
			if v, ok := byYear[y].totals[k]; ok {
				rec[3+i] = shape.FormatValue(v)
			} else {
				rec[3+i] = ""
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
