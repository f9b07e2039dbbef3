package report

import "github.com/hazyhaar/valwatch/apiwatch/tracker"

// Row is one field of a report flattened for tabular display.
type Row struct {
	Request     string   `json:"request"`
	Field       string   `json:"field"`
	APIPath     string   `json:"apiPath"`
	Value       string   `json:"value"`
	Seen        bool     `json:"seen"`
	FirstSeenMs *float64 `json:"firstSeenMs"`
	Reason      Reason   `json:"reason,omitempty"`
}

// Rows tabulates records one row per field. The reason column is filled in
// from flt; fields flt would drop get an empty reason.
func Rows(records []tracker.Record, flt Filter) []Row {
	var rows []Row
	for _, rec := range records {
		for _, f := range rec.Fields {
			reason, _ := flt.Reason(f, rec.URL)
			row := Row{
				Request: rec.URL,
				Field:   f.Path,
				APIPath: f.QualifiedPath(rec.URL),
				Value:   f.Value,
				Seen:    f.Resolved(),
				Reason:  reason,
			}
			if f.FirstSeenMs != nil {
				v := *f.FirstSeenMs
				row.FirstSeenMs = &v
			}
			rows = append(rows, row)
		}
	}
	return rows
}
