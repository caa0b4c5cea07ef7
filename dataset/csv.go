package dataset

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

// ReadCSV parses a headered CSV into a Frame. Header order is preserved.
func ReadCSV(r io.Reader) (*Frame, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "csv has no header")
	}

	header, err := csv.NewReader(bytes.NewReader(raw)).Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse csv header")
	}

	rows, err := gocsv.CSVToMaps(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse csv")
	}

	f := NewFrame(header)
	for _, row := range rows {
		f.AppendRow(row)
	}
	return f, nil
}

// ReadCSVFile opens path and calls ReadCSV.
func ReadCSVFile(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()
	return ReadCSV(file)
}

// WriteCSV writes the frame with a header row.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := gocsv.NewSafeCSVWriter(csv.NewWriter(w))
	if err := cw.Write(f.columns); err != nil {
		return errors.Wrap(err, "failed to write csv header")
	}
	row := make([]string, len(f.columns))
	for i := 0; i < f.nRows; i++ {
		for j, c := range f.columns {
			row[j] = f.data[c][i]
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "failed to write csv row")
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the frame to path, creating parent directories.
func (f *Frame) WriteCSVFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := f.WriteCSV(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// Prediction is one row of a batch scoring output file.
type Prediction struct {
	Row        int     `csv:"row"`
	Label      string  `csv:"prediction"`
	Confidence float64 `csv:"confidence"`
}

// WritePredictions writes batch scoring results via gocsv struct tags.
func WritePredictions(w io.Writer, preds []*Prediction) error {
	return errors.Wrap(gocsv.Marshal(&preds, w), "failed to write predictions")
}
