package sessions

import "testing"

func TestBuildAndParseKey(t *testing.T) {
	id := BuildKey("http", PeerDirect, "alice")
	if id != "http:direct:alice" {
		t.Fatalf("id = %q", id)
	}
	channel, kind, peer, ok := ParseKey(id)
	if !ok || channel != "http" || kind != PeerDirect || peer != "alice" {
		t.Fatalf("parsed = %q %q %q %v", channel, kind, peer, ok)
	}
}

func TestParseKeyRejectsOpaqueIDs(t *testing.T) {
	for _, id := range []string{
		"6f1b0a54-0c3e-4e6e-9a74-0f6a1f8f2a11",
		"plain",
		"http:weird:alice",
		":direct:alice",
		"http:direct:",
	} {
		if _, _, _, ok := ParseKey(id); ok {
			t.Errorf("ParseKey(%q) accepted", id)
		}
	}
}
