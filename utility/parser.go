package utility

import (
	"encoding/json"
	"strconv"
	"strings"
)

func ParseJson(b []byte) ([]interface{}, error) {
	var array []interface{}
	err := json.Unmarshal(b, &array)
	return array, err
}

// ToInt converts a decimal string to an integer, false if it does not parse
func ToInt(s string) (int, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}
