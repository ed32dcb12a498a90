package stores

import (
	"time"

	"github.com/oarkflow/date"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

// scanTime normalizes the driver-dependent representations of timestamp
// columns (sqlite hands back strings or bytes).
func scanTime(raw interface{}) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// resourceIDColumn maps the API's nil-means-general resource id onto the
// store's NOT NULL column, where 0 marks a general grant.
func resourceIDColumn(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func resourceIDValue(col int64) *int64 {
	if col == 0 {
		return nil
	}
	v := col
	return &v
}
