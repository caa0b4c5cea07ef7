package dataset

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

const sampleCSV = `First_Name,Age,Gender,City,Suitability_Label,Extra
Asha,24,Female,Pune,Yes,x
Ravi,,Male,NA,No,y
Meena,31,Female,Delhi,Yes,z
`

func TestReadCSV_PreservesHeaderOrder(t *testing.T) {
	f, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"First_Name", "Age", "Gender", "City", "Suitability_Label", "Extra"}, f.Columns())
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, "Ravi", f.Cell(1, ColFirstName))
	assert.True(t, IsMissing(f.Cell(1, ColAge)))
	assert.True(t, IsMissing(f.Cell(1, ColCity)))
	assert.Equal(t, "Delhi", f.Cell(2, ColCity))
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("  \n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestFrame_WriteCSVRoundTrip(t *testing.T) {
	f, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "copy.csv")
	require.NoError(t, f.WriteCSVFile(path))

	g, err := ReadCSVFile(path)
	require.NoError(t, err)
	assert.Equal(t, f.Columns(), g.Columns())
	for i := 0; i < f.Len(); i++ {
		assert.Equal(t, f.Row(i), g.Row(i))
	}
}

func TestFrame_SelectDropTake(t *testing.T) {
	f, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	sel := f.Select(ColCity, "Nope", ColAge)
	assert.Equal(t, []string{ColCity, ColAge}, sel.Columns())
	assert.Equal(t, 3, sel.Len())

	dropped := f.Drop(IdentityColumns...)
	assert.False(t, dropped.HasColumn(ColFirstName))
	assert.True(t, dropped.HasColumn("Extra"))

	taken := f.Take([]int{2, 0})
	assert.Equal(t, "Meena", taken.Cell(0, ColFirstName))
	assert.Equal(t, "Asha", taken.Cell(1, ColFirstName))

	// Column returns a copy
	col, ok := f.Column(ColCity)
	require.True(t, ok)
	col[0] = "mutated"
	assert.Equal(t, "Pune", f.Cell(0, ColCity))

	assert.NoError(t, f.RequireColumns(ColAge, ColGender))
	assert.Error(t, f.RequireColumns(ColStream))
}

func TestTrainTestSplit(t *testing.T) {
	f := NewFrame([]string{"id"})
	for i := 0; i < 10; i++ {
		f.AppendRow(map[string]string{"id": string(rune('a' + i))})
	}

	train, test, err := TrainTestSplit(f, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, 8, train.Len())
	assert.Equal(t, 2, test.Len())

	seen := map[string]bool{}
	for _, part := range []*Frame{train, test} {
		col, _ := part.Column("id")
		for _, v := range col {
			assert.False(t, seen[v], "row %s appears twice", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, 10)

	// same seed, same split
	train2, test2, err := TrainTestSplit(f, 0.2, 42)
	require.NoError(t, err)
	a, _ := test.Column("id")
	b, _ := test2.Column("id")
	assert.Equal(t, a, b)
	assert.Equal(t, train.Len(), train2.Len())

	// 0.25 * 10 = 2.5 → 3 test rows
	_, test3, err := TrainTestSplit(f, 0.25, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, test3.Len())
}

func TestTrainTestSplit_Invalid(t *testing.T) {
	f := NewFrame([]string{"id"})
	f.AppendRow(map[string]string{"id": "a"})

	_, _, err := TrainTestSplit(f, 0.2, 1)
	assert.Error(t, err)

	_, _, err = TrainTestSplit(f, 1.5, 1)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2020", "2020"},
		{"2020.0", "2020"},
		{" 2020.000 ", "2020"},
		{"2e3", "2000"},
		{"2020.5", "2020.5"},
		{"Inf", "Inf"},
		{"B.Tech", "B.Tech"},
		{" Pune ", "Pune"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCategory(tt.in), tt.in)
	}

	r := Record{YearOfCompletion: 2020}
	assert.Equal(t, NormalizeCategory("2020.0"), r.Cells()[ColYearOfCompletion])
}

func TestRecordCells(t *testing.T) {
	first := "Asha"
	r := Record{
		Age:                    23.5,
		Gender:                 "Female",
		City:                   "Pune",
		HighestQualification:   "B.Tech",
		Stream:                 "CSE",
		YearOfCompletion:       2021,
		AreYouCurrentlyWorking: "No",
		YourDesignation:        "Student",
		EmploymentType:         "None",
		FirstName:              &first,
	}
	cells := r.Cells()
	assert.Equal(t, "23.5", cells[ColAge])
	assert.Equal(t, "2021", cells[ColYearOfCompletion])
	assert.NotContains(t, cells, ColFirstName)

	f := FromRecords([]Record{r, r})
	assert.Equal(t, FeatureColumns(), f.Columns())
	assert.Equal(t, 2, f.Len())
}

func TestIsMissing(t *testing.T) {
	for _, s := range []string{"", " ", "NA", "NaN", "null", "None", "N/A"} {
		assert.True(t, IsMissing(s), s)
	}
	for _, s := range []string{"0", "No", "none?", "Delhi"} {
		assert.False(t, IsMissing(s), s)
	}
}

func TestWritePredictions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePredictions(&buf, []*Prediction{
		{Row: 0, Label: "Yes", Confidence: 0.8},
		{Row: 1, Label: "No", Confidence: 0.6},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "row,prediction,confidence", lines[0])
	assert.Equal(t, "0,Yes,0.8", lines[1])
}
