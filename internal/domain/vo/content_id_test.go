package vo

import (
	"testing"
)

func TestExtractContentID(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOk bool
	}{
		{
			name:   "bare token",
			input:  "6782084dc7036a0cfa096af2",
			want:   "6782084dc7036a0cfa096af2",
			wantOk: true,
		},
		{
			name:   "token in CDN path",
			input:  "https://cdn/x/6782084dc7036a0cfa096af2/HD_playlist.m3u8",
			want:   "6782084dc7036a0cfa096af2",
			wantOk: true,
		},
		{
			name:   "token with query string",
			input:  "https://edge2.example.com/v/6782084dc7036a0cfa096af2/master.m3u8?token=abc",
			want:   "6782084dc7036a0cfa096af2",
			wantOk: true,
		},
		{
			name:   "uppercase hex is not a token",
			input:  "https://cdn/x/6782084DC7036A0CFA096AF2/master.m3u8",
			wantOk: false,
		},
		{
			name:   "longer hex run is not a token",
			input:  "https://cdn/x/6782084dc7036a0cfa096af2ff/master.m3u8",
			wantOk: false,
		},
		{
			name:   "too short",
			input:  "https://cdn/x/6782084dc7036a0c/master.m3u8",
			wantOk: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractContentID(tt.input)
			if ok != tt.wantOk {
				t.Fatalf("ExtractContentID() ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && got.String() != tt.want {
				t.Errorf("ExtractContentID() = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestNewContentID(t *testing.T) {
	if _, err := NewContentID(""); err != ErrEmptyContentID {
		t.Errorf("empty: err = %v, want ErrEmptyContentID", err)
	}
	if _, err := NewContentID("not-hex"); err != ErrInvalidContentID {
		t.Errorf("invalid: err = %v, want ErrInvalidContentID", err)
	}
	id, err := NewContentID(" 6782084dc7036a0cfa096af2 ")
	if err != nil {
		t.Fatalf("valid: %v", err)
	}
	if id.String() != "6782084dc7036a0cfa096af2" {
		t.Errorf("String() = %q", id.String())
	}
}

func TestSameContent(t *testing.T) {
	a := "https://cdn-a/x/6782084dc7036a0cfa096af2/HD_playlist.m3u8"
	b := "https://cdn-b/y/6782084dc7036a0cfa096af2/master.m3u8?sig=1"
	c := "https://cdn-b/y/0000084dc7036a0cfa096af2/master.m3u8"

	if !SameContent(a, b) {
		t.Error("SameContent(a, b) = false, want true")
	}
	if SameContent(a, c) {
		t.Error("SameContent(a, c) = true, want false")
	}
	if !SameContent("plain-id", "plain-id") {
		t.Error("identical strings should match")
	}
	if SameContent("plain-id", "other-id") {
		t.Error("unrelated strings without tokens should not match")
	}
}
