package common

import "testing"

func TestParseRemotePath(t *testing.T) {
	tests := []struct {
		in       string
		endpoint string
		path     string
		ok       bool
	}{
		{"localhost:8000:/a/b", "localhost:8000", "/a/b", true},
		{"10.0.0.1:9000:file:with:colons", "10.0.0.1:9000", "file:with:colons", true},
		{"localhost:8000:", "", "", false},
		{"localhost:port:/a", "", "", false},
		{"/local/file", "", "", false},
		{":8000:/a", "", "", false},
	}
	for _, tt := range tests {
		endpoint, path, ok := ParseRemotePath(tt.in)
		if ok != tt.ok || endpoint != tt.endpoint || path != tt.path {
			t.Errorf("ParseRemotePath(%q) = %q, %q, %v", tt.in, endpoint, path, ok)
		}
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	if got := NormalizeEndpoint("localhost"); got != "localhost:8000" {
		t.Errorf("got %q", got)
	}
	if got := NormalizeEndpoint("localhost:9000"); got != "localhost:9000" {
		t.Errorf("got %q", got)
	}
}

func TestParseNodeAddress(t *testing.T) {
	node, err := ParseNodeAddress("127.0.0.1:9001")
	if err != nil || node != (NodeAddress{Address: "127.0.0.1", Port: 9001}) {
		t.Fatalf("got %v, %v", node, err)
	}
	if node.String() != "127.0.0.1:9001" {
		t.Fatalf("got %q", node.String())
	}
	for _, bad := range []string{"127.0.0.1", "host:70000", "host:x"} {
		if IsValidEndpoint(bad) {
			t.Errorf("%q accepted", bad)
		}
	}
}
