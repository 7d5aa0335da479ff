// Package shape reads and writes the gzip-compressed hourly load tables,
// one file per scenario and year, laid out as <dir>/<scenario>/<year>.csv.gz.
package shape

import (
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/lox/loadscale/internal/errors"
	"github.com/lox/loadscale/internal/fsutil"
	"github.com/lox/loadscale/internal/models"
)

const fileSuffix = ".csv.gz"

// UnitPath returns the shape file path of scenario/year under dir.
func UnitPath(dir, scenario string, year int) string {
	return filepath.Join(dir, scenario, strconv.Itoa(year)+fileSuffix)
}

// Discover lists every scenario/year shape file under dir, sorted by
// scenario then year. Non-shape files such as summary_shapes.csv are ignored.
func Discover(dir string) ([]models.Unit, error) {
	scenarios, err := fsutil.Subdirectories(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Newf(errors.ErrMissingShapeFile, "input directory does not exist").WithPath(dir)
		}
		return nil, fmt.Errorf("list scenarios: %w", err)
	}

	var units []models.Unit
	for _, scenario := range scenarios {
		files, err := fsutil.FindFilesBySuffix(filepath.Join(dir, scenario), fileSuffix)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", scenario, err)
		}
		for _, name := range files {
			year, err := strconv.Atoi(strings.TrimSuffix(name, fileSuffix))
			if err != nil {
				return nil, errors.Newf(errors.ErrMalformedShape, "file name is not <year>%s", fileSuffix).
					WithPath(filepath.Join(dir, scenario, name))
			}
			units = append(units, models.Unit{
				Scenario: scenario,
				Year:     year,
				Path:     filepath.Join(dir, scenario, name),
			})
		}
	}
	return units, nil
}

// Load reads and validates the shape file at path.
func Load(path, scenario string, year, hours int) (*models.LoadTable, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Newf(errors.ErrMissingShapeFile, "").WithUnit(scenario, year).WithPath(path)
		}
		return nil, fmt.Errorf("open shape: %w", err)
	}
	defer f.Close()

	malformed := func(format string, args ...any) error {
		return errors.Newf(errors.ErrMalformedShape, format, args...).WithUnit(scenario, year).WithPath(path)
	}

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, malformed("gzip: %v", err)
	}
	defer zr.Close()

	t, err := Parse(zr)
	if err != nil {
		return nil, malformed("%v", err)
	}
	t.Scenario = scenario
	t.Year = year

	if issues := ValidateTable(t, hours); len(issues) > 0 {
		return nil, malformed("%s (%d issues)", issues[0], len(issues))
	}
	return t, nil
}

// Parse reads an uncompressed shape CSV. It checks the header and number
// formats only; hour counts and value ranges are left to ValidateTable.
func Parse(r io.Reader) (*models.LoadTable, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &models.LoadTable{Header: make([]string, len(header))}
	pos := map[string]int{models.ColSector: -1, models.ColSubsector: -1, models.ColWeatherDatetime: -1}
	stateCol := make([]int, 0, len(header))
	seen := make(map[string]bool, len(header))

	for i, h := range header {
		h = strings.TrimSpace(h)
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		seen[h] = true
		t.Header[i] = h

		if _, ok := pos[h]; ok {
			pos[h] = i
			continue
		}
		t.States = append(t.States, h)
		stateCol = append(stateCol, i)
	}
	for _, col := range []string{models.ColSector, models.ColSubsector, models.ColWeatherDatetime} {
		if pos[col] < 0 {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row := models.LoadRow{
			Sector:          rec[pos[models.ColSector]],
			Subsector:       rec[pos[models.ColSubsector]],
			WeatherDatetime: rec[pos[models.ColWeatherDatetime]],
			Values:          make([]float64, len(stateCol)),
		}
		for j, c := range stateCol {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: invalid value %q", line, t.States[j], rec[c])
			}
			row.Values[j] = v
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}
