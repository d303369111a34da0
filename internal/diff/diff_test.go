package diff

import (
	"encoding/json"
	"testing"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestComputeClassifiesChanges(t *testing.T) {
	tests := []struct {
		name      string
		canonical []json.RawMessage
		fork      []json.RawMessage
		want      []Entry
	}{
		{
			name:      "identical sequences",
			canonical: []json.RawMessage{raw(`{"a":1}`)},
			fork:      []json.RawMessage{raw(`{"a":1}`)},
			want:      []Entry{},
		},
		{
			name:      "formatting differences are not changes",
			canonical: []json.RawMessage{raw(`{"a":1,"b":2}`)},
			fork:      []json.RawMessage{raw(`{ "b": 2, "a": 1 }`)},
			want:      []Entry{},
		},
		{
			name:      "modified and added",
			canonical: []json.RawMessage{raw(`{"a":1}`), raw(`{"a":2}`)},
			fork:      []json.RawMessage{raw(`{"a":1}`), raw(`{"a":9}`), raw(`{"a":3}`)},
			want: []Entry{
				{Index: 1, Type: Modified},
				{Index: 2, Type: Added},
			},
		},
		{
			name:      "removed tail",
			canonical: []json.RawMessage{raw(`{"a":1}`), raw(`{"a":2}`), raw(`{"a":3}`)},
			fork:      []json.RawMessage{raw(`{"a":1}`)},
			want: []Entry{
				{Index: 1, Type: Removed},
				{Index: 2, Type: Removed},
			},
		},
		{
			name:      "empty canonical means everything is added",
			canonical: nil,
			fork:      []json.RawMessage{raw(`{"a":1}`), raw(`{"a":2}`)},
			want: []Entry{
				{Index: 0, Type: Added},
				{Index: 1, Type: Added},
			},
		},
		{
			name:      "front insertion misaligns as modifications",
			canonical: []json.RawMessage{raw(`{"a":1}`), raw(`{"a":2}`)},
			fork:      []json.RawMessage{raw(`{"a":0}`), raw(`{"a":1}`), raw(`{"a":2}`)},
			want: []Entry{
				{Index: 0, Type: Modified},
				{Index: 1, Type: Modified},
				{Index: 2, Type: Added},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.canonical, tt.fork)
			if got.TotalChanges != len(tt.want) {
				t.Fatalf("TotalChanges = %d, want %d", got.TotalChanges, len(tt.want))
			}
			if len(got.Entries) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got.Entries), len(tt.want))
			}
			for i, entry := range got.Entries {
				if entry.Index != tt.want[i].Index || entry.Type != tt.want[i].Type {
					t.Errorf("entry %d = {%d %s}, want {%d %s}",
						i, entry.Index, entry.Type, tt.want[i].Index, tt.want[i].Type)
				}
			}
		})
	}
}

func TestComputeModifiedCarriesBothSides(t *testing.T) {
	canonical := []json.RawMessage{raw(`{"a":1}`), raw(`{"a":2}`)}
	fork := []json.RawMessage{raw(`{"a":1}`), raw(`{"a":9}`), raw(`{"a":3}`)}

	got := Compute(canonical, fork)
	if got.TotalChanges != 2 {
		t.Fatalf("TotalChanges = %d, want 2", got.TotalChanges)
	}

	modified := got.Entries[0]
	if modified.Index != 1 || modified.Type != Modified {
		t.Fatalf("unexpected first entry: %+v", modified)
	}
	if !Equal(modified.Old, raw(`{"a":2}`)) || !Equal(modified.New, raw(`{"a":9}`)) {
		t.Fatalf("modified entry sides wrong: old=%s new=%s", modified.Old, modified.New)
	}

	added := got.Entries[1]
	if added.Index != 2 || added.Type != Added || !Equal(added.Content, raw(`{"a":3}`)) {
		t.Fatalf("unexpected added entry: %+v", added)
	}
}

func TestEqual(t *testing.T) {
	if !Equal(raw(`[1,2,3]`), raw(`[ 1, 2, 3 ]`)) {
		t.Fatal("expected arrays to compare equal")
	}
	if Equal(raw(`{"a":1}`), raw(`{"a":"1"}`)) {
		t.Fatal("number and string must differ")
	}
	if Equal(raw(`{bad`), raw(`{bad`)) {
		t.Fatal("unparsable values must not compare equal")
	}
}
