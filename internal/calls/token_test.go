package calls

import "testing"

func TestNewReconnectToken_Format(t *testing.T) {
	tok, err := NewReconnectToken()
	if err != nil {
		t.Fatalf("NewReconnectToken: %v", err)
	}
	if len(tok) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(tok))
	}
	for _, c := range tok {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Fatalf("expected lowercase hex, got %q in %q", c, tok)
		}
	}
}

func TestNewReconnectToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		tok, err := NewReconnectToken()
		if err != nil {
			t.Fatalf("NewReconnectToken: %v", err)
		}
		if seen[tok] {
			t.Fatalf("token repeated: %s", tok)
		}
		seen[tok] = true
	}
}
