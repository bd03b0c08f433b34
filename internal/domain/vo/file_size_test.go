package vo

import "testing"

func TestSizeOf(t *testing.T) {
	tests := []struct {
		in   int64
		want int64
	}{
		{-5, 0},
		{0, 0},
		{3 * MB, 3 * MB},
	}
	for _, tt := range tests {
		if got := SizeOf(tt.in).Bytes(); got != tt.want {
			t.Errorf("SizeOf(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if !SizeOf(-1).IsZero() {
		t.Error("SizeOf(-1) should clamp to zero")
	}
}

func TestFileSize_String(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2 * MB, "2.0 MiB"},
		{3 * GB, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := SizeOf(tt.bytes).String(); got != tt.want {
			t.Errorf("SizeOf(%d).String() = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestFileSize_Arithmetic(t *testing.T) {
	a := SizeOf(2 * GB)
	b := FileSizeFromGB(1.5)

	if !a.ExceedsLimit(b) {
		t.Error("2GB should exceed 1.5GB")
	}
	if got := a.Add(b).Bytes(); got != 2*GB+GB*3/2 {
		t.Errorf("Add() = %d", got)
	}
	if got := a.Sub(b).Bytes(); got != GB/2 {
		t.Errorf("Sub() = %d, want %d", got, GB/2)
	}
	if !b.Sub(a).IsZero() {
		t.Error("Sub() below zero should clamp")
	}
	if !FileSizeFromGB(-1).IsZero() {
		t.Error("negative gigabytes should clamp")
	}
}
