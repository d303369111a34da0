package archive

import (
	"testing"
	"time"
)

func TestSnapshotName(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	got := snapshotName("multi-turn/chat.json", at)
	want := "multi-turn/chat/20260314T092653Z.json"
	if got != want {
		t.Fatalf("snapshotName() = %q, want %q", got, want)
	}
}
