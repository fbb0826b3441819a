package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TableReference is the reference token for statements extracted from an uncited table:
// every available document is searched.
const TableReference = "Table"

// InputRow is one extracted statement as produced by the brochure extraction step
type InputRow struct {
	Statement   string      `json:"statement" yaml:"statement"`
	ReferenceNo FlexString  `json:"reference_no" yaml:"reference_no"` // "3", "1,2", "1-3", "Table" or empty
	Reference   string      `json:"reference" yaml:"reference"`       // Citation text (author, year, title)
	PageNo      FlexString  `json:"page_no,omitempty" yaml:"page_no,omitempty"`
	Documents   DocumentSet `json:"-" yaml:"-"` // Reference documents available to this row
}

// TrimmedStatement returns the statement identity key
func (r InputRow) TrimmedStatement() string {
	return strings.TrimSpace(r.Statement)
}

// FlexString is a string that also accepts JSON numbers and null.
// Extraction output carries reference and page numbers either way.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}

	// 3.0 from spreadsheet exports is reference 3
	if fl, err := n.Float64(); err == nil && fl == float64(int64(fl)) {
		*f = FlexString(strconv.FormatInt(int64(fl), 10))
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}
