package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// requiredFields are the JSON keys every prediction record must carry.
var requiredFields = []string{
	ColAge,
	ColGender,
	ColCity,
	ColHighestQualification,
	ColStream,
	ColYearOfCompletion,
	ColAreYouCurrentlyWorking,
	ColYourDesignation,
	ColEmploymentType,
}

// FieldError reports missing or mistyped record fields.
type FieldError struct {
	Index    int // record position in a batch, -1 for a single record
	Missing  []string
	Mistyped string
	Detail   string
}

func (e *FieldError) Error() string {
	var b strings.Builder
	if e.Index >= 0 {
		fmt.Fprintf(&b, "record %d: ", e.Index)
	}
	switch {
	case len(e.Missing) > 0:
		fmt.Fprintf(&b, "missing required field(s): %s", strings.Join(e.Missing, ", "))
	case e.Mistyped != "":
		fmt.Fprintf(&b, "field %s has the wrong type: %s", e.Mistyped, e.Detail)
	default:
		b.WriteString(e.Detail)
	}
	return b.String()
}

// DecodeRecord parses one JSON object into a Record. Required fields must be
// present and non-null; unknown keys are ignored.
func DecodeRecord(data []byte) (Record, error) {
	return decodeRecord(data, -1)
}

// DecodeRecords parses a JSON array of record objects, preserving order.
func DecodeRecords(items []json.RawMessage) ([]Record, error) {
	out := make([]Record, len(items))
	for i, raw := range items {
		r, err := decodeRecord(raw, i)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func decodeRecord(data []byte, index int) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, &FieldError{Index: index, Detail: "record must be a JSON object: " + err.Error()}
	}

	var missing []string
	for _, name := range requiredFields {
		v, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Record{}, &FieldError{Index: index, Missing: missing}
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		if te, ok := err.(*json.UnmarshalTypeError); ok {
			return Record{}, &FieldError{Index: index, Mistyped: te.Field, Detail: "expected " + te.Type.String() + ", got " + te.Value}
		}
		return Record{}, &FieldError{Index: index, Detail: err.Error()}
	}
	return r, nil
}
