package sitekey

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "https://www.Example.com/path?q=1", want: "example.com"},
		{raw: "http://news.example.org:8080/", want: "news.example.org"},
		{raw: "example.com.", want: "example.com"},
		{raw: "WWW.example.com/page", want: "example.com"},
		{raw: "www.YouTube.com", want: "youtube.com"},
		{raw: "127.0.0.1:8080", want: "127.0.0.1"},
		{raw: "localhost:3000/app", want: "localhost"},
		{raw: "Example.com:8080", want: "example.com"},
		{raw: "[::1]:8080", want: "::1"},
		{raw: "chrome://extensions", want: "chrome"},
		{raw: "about:blank", want: "about"},
		{raw: "file:///tmp/index.html", want: "file"},
		{raw: "", wantErr: true},
		{raw: "   ", wantErr: true},
		{raw: "https:///nohost", wantErr: true},
		{raw: ":8080", wantErr: true},
	}

	for _, tt := range tests {
		got, err := Normalize(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Normalize(%q): expected ErrInvalid, got %q (%v)", tt.raw, got, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Normalize(%q): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
