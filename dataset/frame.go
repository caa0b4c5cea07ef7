package dataset

import (
	"math/rand"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

// Frame is a column-oriented table of raw string cells. Column order is
// preserved from the source; cells are never parsed here.
type Frame struct {
	columns []string
	data    map[string][]string
	nRows   int
}

// NewFrame creates an empty frame with the given columns.
func NewFrame(columns []string) *Frame {
	f := &Frame{
		columns: make([]string, 0, len(columns)),
		data:    make(map[string][]string, len(columns)),
	}
	for _, c := range columns {
		if _, dup := f.data[c]; dup {
			continue
		}
		f.columns = append(f.columns, c)
		f.data[c] = nil
	}
	return f
}

// AppendRow adds one row. Columns absent from row get an empty (missing)
// cell; keys that are not frame columns are ignored.
func (f *Frame) AppendRow(row map[string]string) {
	for _, c := range f.columns {
		f.data[c] = append(f.data[c], row[c])
	}
	f.nRows++
}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.nRows }

// Columns returns a copy of the column names in order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

// HasColumn reports whether name is a column of f.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.data[name]
	return ok
}

// Column returns a copy of the named column.
func (f *Frame) Column(name string) ([]string, bool) {
	col, ok := f.data[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), col...), true
}

// Cell returns a single cell.
func (f *Frame) Cell(row int, column string) string {
	return f.data[column][row]
}

// Row returns row i as a map.
func (f *Frame) Row(i int) map[string]string {
	out := make(map[string]string, len(f.columns))
	for _, c := range f.columns {
		out[c] = f.data[c][i]
	}
	return out
}

// RequireColumns returns a ValueError naming the first absent column.
func (f *Frame) RequireColumns(columns ...string) error {
	for _, c := range columns {
		if !f.HasColumn(c) {
			return errors.NewValueError("Frame.RequireColumns", "required column '"+c+"' is absent")
		}
	}
	return nil
}

// Select returns a new frame restricted to the given columns. Unknown
// columns are skipped.
func (f *Frame) Select(columns ...string) *Frame {
	keep := make([]string, 0, len(columns))
	for _, c := range columns {
		if f.HasColumn(c) {
			keep = append(keep, c)
		}
	}
	out := NewFrame(keep)
	for _, c := range out.columns {
		out.data[c] = append([]string(nil), f.data[c]...)
	}
	out.nRows = f.nRows
	return out
}

// Drop returns a new frame without the given columns.
func (f *Frame) Drop(columns ...string) *Frame {
	drop := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		drop[c] = struct{}{}
	}
	keep := make([]string, 0, len(f.columns))
	for _, c := range f.columns {
		if _, ok := drop[c]; !ok {
			keep = append(keep, c)
		}
	}
	return f.Select(keep...)
}

// Take returns a new frame containing rows in the given order.
func (f *Frame) Take(rows []int) *Frame {
	out := NewFrame(f.columns)
	for _, c := range f.columns {
		src := f.data[c]
		dst := make([]string, len(rows))
		for i, r := range rows {
			dst[i] = src[r]
		}
		out.data[c] = dst
	}
	out.nRows = len(rows)
	return out
}

// TrainTestSplit shuffles rows with seed and holds out ceil(testSize*n) of
// them, mirroring scikit-learn's train_test_split sizing.
func TrainTestSplit(f *Frame, testSize float64, seed int64) (train, test *Frame, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	n := f.Len()
	nTest := ceilInt(testSize * float64(n))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return nil, nil, errors.NewValueError("TrainTestSplit",
			"dataset too small to split: need at least one train and one test row")
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return f.Take(perm[nTest:]), f.Take(perm[:nTest]), nil
}

func ceilInt(x float64) int {
	i := int(x)
	if float64(i) < x {
		i++
	}
	return i
}
