// Package diff computes index-aligned structural diffs between a
// canonical dataset sequence and a fork of it.
package diff

import (
	"encoding/json"
	"reflect"
)

type Type string

const (
	Added    Type = "added"
	Removed  Type = "removed"
	Modified Type = "modified"
)

// Entry is one positional discrepancy. For added/removed entries only
// Content is set; modified entries carry both sides.
type Entry struct {
	Index   int             `json:"index"`
	Type    Type            `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Old     json.RawMessage `json:"old_content,omitempty"`
	New     json.RawMessage `json:"new_content,omitempty"`
}

type Result struct {
	Entries      []Entry `json:"diffs"`
	TotalChanges int     `json:"total_changes"`
}

// Compute walks both sequences over the padded index range. The diff is
// positional, not content-aware: an insertion at the front of the fork
// misaligns every later index and shows up as a chain of modifications.
// The record model has no stable identity key, so this is accepted.
func Compute(canonical, fork []json.RawMessage) Result {
	entries := make([]Entry, 0)
	length := len(canonical)
	if len(fork) > length {
		length = len(fork)
	}

	for i := 0; i < length; i++ {
		switch {
		case i >= len(canonical):
			entries = append(entries, Entry{Index: i, Type: Added, Content: fork[i]})
		case i >= len(fork):
			entries = append(entries, Entry{Index: i, Type: Removed, Content: canonical[i]})
		case !Equal(canonical[i], fork[i]):
			entries = append(entries, Entry{Index: i, Type: Modified, Old: canonical[i], New: fork[i]})
		}
	}

	return Result{Entries: entries, TotalChanges: len(entries)}
}

// Equal reports deep structural equality of two JSON values. Formatting
// and key order do not matter.
func Equal(a, b json.RawMessage) bool {
	var left, right any
	if err := json.Unmarshal(a, &left); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &right); err != nil {
		return false
	}
	return reflect.DeepEqual(left, right)
}
