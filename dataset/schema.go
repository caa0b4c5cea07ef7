// Package dataset defines the course-suitability record schema and a small
// column-oriented frame used to move raw CSV cells into the preprocessors.
package dataset

import (
	"math"
	"strconv"
	"strings"
)

// Column names as they appear in the CSV header and the JSON API.
const (
	ColAge                    = "Age"
	ColGender                 = "Gender"
	ColCity                   = "City"
	ColHighestQualification   = "Highest_Qualification"
	ColStream                 = "Stream"
	ColYearOfCompletion       = "Year_Of_Completion"
	ColAreYouCurrentlyWorking = "Are_you_currently_working"
	ColYourDesignation        = "Your_Designation"
	ColEmploymentType         = "Employment_Type"

	ColFirstName   = "First_Name"
	ColLastName    = "Last_Name"
	ColCompanyName = "Company_Name"

	// ColLabel is the target column.
	ColLabel = "Suitability_Label"
)

// NumericColumns are imputed with the training median.
var NumericColumns = []string{ColAge}

// CategoricalColumns are imputed with the most frequent training value and
// then target encoded. Year_Of_Completion is treated as a category.
var CategoricalColumns = []string{
	ColGender,
	ColCity,
	ColHighestQualification,
	ColStream,
	ColYearOfCompletion,
	ColAreYouCurrentlyWorking,
	ColYourDesignation,
	ColEmploymentType,
}

// IdentityColumns never reach the transformer.
var IdentityColumns = []string{ColFirstName, ColLastName, ColCompanyName}

// FeatureColumns returns the transformer input columns in output order:
// numeric first, then categorical.
func FeatureColumns() []string {
	out := make([]string, 0, len(NumericColumns)+len(CategoricalColumns))
	out = append(out, NumericColumns...)
	return append(out, CategoricalColumns...)
}

// missingTokens mirrors the NA markers a pandas-produced CSV may contain.
var missingTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// IsMissing reports whether a raw cell denotes a missing value.
func IsMissing(cell string) bool {
	_, ok := missingTokens[strings.TrimSpace(cell)]
	return ok
}

// NormalizeCategory returns the canonical form of a categorical cell. Integral
// numbers are written without a fractional part, so "2020.0" read from a CSV
// and 2020 sent through the API land in the same category.
func NormalizeCategory(cell string) string {
	cell = strings.TrimSpace(cell)
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) || v != math.Trunc(v) {
		return cell
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Record is one applicant as accepted by the prediction API. Identity fields
// are optional and ignored by the model.
type Record struct {
	Age                    float64 `json:"Age" csv:"Age"`
	Gender                 string  `json:"Gender" csv:"Gender"`
	City                   string  `json:"City" csv:"City"`
	HighestQualification   string  `json:"Highest_Qualification" csv:"Highest_Qualification"`
	Stream                 string  `json:"Stream" csv:"Stream"`
	YearOfCompletion       int     `json:"Year_Of_Completion" csv:"Year_Of_Completion"`
	AreYouCurrentlyWorking string  `json:"Are_you_currently_working" csv:"Are_you_currently_working"`
	YourDesignation        string  `json:"Your_Designation" csv:"Your_Designation"`
	EmploymentType         string  `json:"Employment_Type" csv:"Employment_Type"`

	FirstName   *string `json:"First_Name,omitempty" csv:"-"`
	LastName    *string `json:"Last_Name,omitempty" csv:"-"`
	CompanyName *string `json:"Company_Name,omitempty" csv:"-"`
}

// Cells renders the feature fields as raw cells keyed by column name, in the
// same textual form the training CSV uses.
func (r Record) Cells() map[string]string {
	return map[string]string{
		ColAge:                    strconv.FormatFloat(r.Age, 'g', -1, 64),
		ColGender:                 r.Gender,
		ColCity:                   r.City,
		ColHighestQualification:   r.HighestQualification,
		ColStream:                 r.Stream,
		ColYearOfCompletion:       strconv.Itoa(r.YearOfCompletion),
		ColAreYouCurrentlyWorking: r.AreYouCurrentlyWorking,
		ColYourDesignation:        r.YourDesignation,
		ColEmploymentType:         r.EmploymentType,
	}
}

// FromRecords builds a feature frame from typed records, preserving order.
func FromRecords(records []Record) *Frame {
	f := NewFrame(FeatureColumns())
	for _, r := range records {
		f.AppendRow(r.Cells())
	}
	return f
}
