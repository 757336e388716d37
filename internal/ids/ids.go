package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier used for documents,
// history entries and grants. Sortable ids keep history scans ordered without
// an extra sequence column.
func New() string {
	return ulid.Make().String()
}
