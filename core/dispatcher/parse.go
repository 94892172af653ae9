package dispatcher

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON cuts reply down to its outermost {...} span and reports whether
// the result is a valid JSON object. Models tend to wrap the object in prose
// or code fences.
func ExtractJSON(reply string) (string, bool) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return "", false
	}
	obj := reply[start : end+1]
	if !gjson.Valid(obj) || !gjson.Parse(obj).IsObject() {
		return "", false
	}
	return obj, true
}

// firstOf returns the first of keys present in r.
func firstOf(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// parseStateRef accepts 5, "5", "State5" or "MergedState5".
func parseStateRef(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		return int(r.Int()), true
	case gjson.String:
		s := strings.TrimSpace(r.String())
		s = strings.TrimPrefix(s, "Merged")
		s = strings.TrimPrefix(s, "State")
		n, err := strconv.Atoi(strings.TrimSpace(s))
		return n, err == nil
	}
	return 0, false
}

func parseStateRefs(r gjson.Result) []int {
	var ids []int
	for _, v := range r.Array() {
		if id, ok := parseStateRef(v); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func parseStrings(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}
