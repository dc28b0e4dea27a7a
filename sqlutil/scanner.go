// Package sqlutil holds shared plumbing for iterating database/sql
// result sets.
package sqlutil

// Scannable is a single row that can be scanned into destinations.
type Scannable interface {
	Scan(dest ...any) error
}

// Rows is the subset of *sql.Rows needed to drive a scan loop.
type Rows interface {
	Close() error
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// ScanRows calls scanFunc for every row and closes the result set when
// done. Iteration stops on the first scan error.
func ScanRows(r Rows, scanFunc func(row Scannable) error) (err error) {
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for r.Next() {
		if serr := scanFunc(r); serr != nil {
			return serr
		}
	}
	return r.Err()
}
