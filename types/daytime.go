package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// layouts accepted from stations, some firmwares omit the zone designator
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05Z0700",
}

// DateTime wraps a time.Time struct, allowing for improved dateTime JSON compatibility.
type DateTime struct {
	time.Time
}

// NewDateTime Creates a new DateTime struct, embedding a time.Time struct.
func NewDateTime(time time.Time) *DateTime {
	return &DateTime{Time: time}
}

func (dt *DateTime) MarshalJSON() ([]byte, error) {
	if dt == nil || dt.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(dt.Time.UTC().Format(time.RFC3339))
}

func (dt *DateTime) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		dt.Time = time.Time{}
		return nil
	}
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			dt.Time = t
			return nil
		}
	}
	return fmt.Errorf("invalid date time value: %s", value)
}

// TimeOrNow returns the embedded time, or now when the value is absent
func (dt *DateTime) TimeOrNow() time.Time {
	if dt == nil || dt.Time.IsZero() {
		return time.Now()
	}
	return dt.Time
}
