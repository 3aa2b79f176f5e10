package query

// Result is one fetched page (or the whole capped set when not paginated).
type Result struct {
	Rows      []map[string]any
	Total     int64
	PerPage   int
	Page      int
	Paginated bool
}

// LastPage is the 1-based number of the final page; at least 1.
func (r *Result) LastPage() int {
	if !r.Paginated || r.PerPage <= 0 || r.Total == 0 {
		return 1
	}
	return int((r.Total + int64(r.PerPage) - 1) / int64(r.PerPage))
}
