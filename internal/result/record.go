// Package result holds the merged record a dispatch hands back to its caller.
package result

import "maps"

const (
	KeyFailed = "failed"
	KeyMsg    = "msg"
)

// Record is the outcome of one dispatch. Failure is expressed in-band through
// the "failed" and "msg" keys, never as a Go error.
type Record map[string]any

// Failure builds a failure-shaped record.
func Failure(msg string) Record {
	return Record{KeyFailed: true, KeyMsg: msg}
}

// Merge copies src over r. Keys in src win on collision.
func (r Record) Merge(src Record) Record {
	if r == nil {
		r = Record{}
	}
	maps.Copy(r, src)
	return r
}

// Failed reports whether the record is marked failed.
func (r Record) Failed() bool {
	v, ok := r[KeyFailed].(bool)
	return ok && v
}

// Msg returns the diagnostic message, if any.
func (r Record) Msg() string {
	s, _ := r[KeyMsg].(string)
	return s
}
