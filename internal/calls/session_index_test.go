package calls

import "testing"

func TestSessionIndex_PutGetDelete(t *testing.T) {
	idx := NewSessionIndex()

	idx.Put("req-1", "rec-1")
	if got, ok := idx.Get("req-1"); !ok || got != "rec-1" {
		t.Fatalf("expected rec-1, got %q ok=%v", got, ok)
	}

	idx.Delete("req-1")
	if _, ok := idx.Get("req-1"); ok {
		t.Fatalf("expected entry gone")
	}

	// Deleting again is fine.
	idx.Delete("req-1")
}

func TestSessionIndex_Swap(t *testing.T) {
	idx := NewSessionIndex()
	idx.Put("req-1", "rec-1")

	if !idx.Swap("req-1", "call-1") {
		t.Fatalf("expected swap to succeed")
	}
	if _, ok := idx.Get("req-1"); ok {
		t.Fatalf("old key should be retired")
	}
	if got, _ := idx.Get("call-1"); got != "rec-1" {
		t.Fatalf("new key should resolve, got %q", got)
	}

	if idx.Swap("req-1", "call-2") {
		t.Fatalf("swap of absent key should report false")
	}
}

func TestSessionIndex_DeleteRecord(t *testing.T) {
	idx := NewSessionIndex()
	idx.Put("call-1", "rec-1")
	idx.Put("call-1b", "rec-1")
	idx.Put("call-2", "rec-2")

	idx.DeleteRecord("rec-1")

	if idx.Len() != 1 {
		t.Fatalf("expected only rec-2's entry to survive, len=%d", idx.Len())
	}
	if _, ok := idx.Get("call-2"); !ok {
		t.Fatalf("unrelated entry should survive")
	}
}
