// Package series reads and writes the tabular side-car files that hold the
// observations of numeric and text series.
package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
)

// Extension is appended to the identifier of every series side-car file.
const Extension = ".csv"

// Column names of a series table, in file order.
const (
	StepColumn      = "step"
	ValueColumn     = "value"
	TimestampColumn = "timestamp"
)

// Columns is the header of every series side-car file.
var Columns = []string{StepColumn, ValueColumn, TimestampColumn}

// Row is a single observation of a series.
type Row struct {
	Step      float64
	Value     interface{}
	Timestamp time.Time
}

// Table holds the observations of a series. A table without columns means
// that the series never had any values.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable returns a table with the standard columns holding rows.
func NewTable(rows []Row) Table {
	return Table{Columns: Columns, Rows: rows}
}

// IsEmpty returns whether the table represents a series without values.
func (t Table) IsEmpty() bool {
	return len(t.Columns) == 0
}

// ValueParser converts the textual value column back into a series value.
type ValueParser func(string) (interface{}, error)

// ParseFloat parses values of numeric series.
func ParseFloat(s string) (interface{}, error) {
	return strconv.ParseFloat(s, 64)
}

// ParseString keeps values of text series verbatim, including empty
// strings.
func ParseString(s string) (interface{}, error) {
	return s, nil
}

// Write writes the table as CSV, with timestamps in epoch seconds.
func Write(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return errors.WithContext(err, "write header")
	}

	for i, row := range t.Rows {
		record := []string{
			formatFloat(row.Step),
			formatValue(row.Value),
			formatFloat(EpochSeconds(row.Timestamp)),
		}
		if err := cw.Write(record); err != nil {
			return errors.WithContext(err, fmt.Sprintf("write row %d", i))
		}
	}

	cw.Flush()
	return cw.Error()
}

// Read parses a table written by Write.
func Read(r io.Reader, parse ValueParser) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, errors.WithContext(err, "parse csv")
	}
	if len(records) == 0 {
		return Table{}, errors.New("missing header")
	}

	index := map[string]int{}
	for i, name := range records[0] {
		index[name] = i
	}
	for _, name := range Columns {
		if _, ok := index[name]; !ok {
			return Table{}, errors.MissingFieldError{Field: name}
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) != len(records[0]) {
			return Table{}, errors.New("row %d has %d fields, expected %d",
				i, len(record), len(records[0]))
		}

		step, err := strconv.ParseFloat(record[index[StepColumn]], 64)
		if err != nil {
			return Table{}, errors.WithContext(err, fmt.Sprintf("parse step of row %d", i))
		}

		value, err := parse(record[index[ValueColumn]])
		if err != nil {
			return Table{}, errors.WithContext(err, fmt.Sprintf("parse value of row %d", i))
		}

		ts, err := strconv.ParseFloat(record[index[TimestampColumn]], 64)
		if err != nil {
			return Table{}, errors.WithContext(err, fmt.Sprintf("parse timestamp of row %d", i))
		}

		rows = append(rows, Row{Step: step, Value: value, Timestamp: FromEpochSeconds(ts)})
	}
	return NewTable(rows), nil
}

// EpochSeconds converts t to seconds since the Unix epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// FromEpochSeconds is the inverse of EpochSeconds, up to float precision.
func FromEpochSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	nsec := math.Round(frac*1e6) * 1e3
	return time.Unix(int64(sec), int64(nsec)).UTC()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatValue(v interface{}) string {
	switch v := v.(type) {
	case float64:
		return formatFloat(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
