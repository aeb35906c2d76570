package observability

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/health", "/health"},
		{"/songs", "/songs"},
		{"/songs/", "/songs/"},
		{"/songs/song-abc123", "/songs/{id}"},
		{"/songs/song-abc123/generate", "/songs/{id}/generate"},
		{"/callbacks/muse", "/callbacks/muse"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
