package utils

import "testing"

func TestCanonicalHost(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"Example.COM", "example.com"},
		{"  example.com.  ", "example.com"},
		{"example.com...", "example.com"},
		{"WWW.Example.com", "www.example.com"},
		{"bücher.example", "xn--bcher-kva.example"},
		{"127.0.0.1", "127.0.0.1"},
	}
	for _, tt := range tests {
		if got := CanonicalHost(tt.in); got != tt.want {
			t.Errorf("CanonicalHost(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripWWW(t *testing.T) {
	tests := map[string]string{
		"www.example.com":     "example.com",
		"example.com":         "example.com",
		"www.www.example.com": "www.example.com",
		"wwwexample.com":      "wwwexample.com",
	}
	for in, want := range tests {
		if got := StripWWW(in); got != want {
			t.Errorf("StripWWW(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestGetApexDomain(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"news.example.com", "example.com"},
		{"example.co.uk", "example.co.uk"},
		{"a.b.example.co.uk", "example.co.uk"},
		{"Example.COM.", "example.com"},
		{"localhost", "localhost"},
	}
	for _, tt := range tests {
		if got := GetApexDomain(tt.in); got != tt.want {
			t.Errorf("GetApexDomain(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
