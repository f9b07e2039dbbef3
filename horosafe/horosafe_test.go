package horosafe

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
	}{
		{"https://example.com/app", nil},
		{"http://localhost:3000/", nil},
		{" http://127.0.0.1:8080/x ", nil},
		{"ftp://example.com/data", ErrUnsafeScheme},
		{"javascript:alert(1)", ErrUnsafeScheme},
		{"file:///etc/passwd", ErrUnsafeScheme},
	}
	for _, tt := range tests {
		_, err := CheckURL(tt.url)
		if tt.wantErr == nil && err != nil {
			t.Errorf("CheckURL(%q) = %v", tt.url, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("CheckURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
		}
	}
	if _, err := CheckURL("https:///path"); err == nil {
		t.Error("URL without host accepted")
	}
}

func TestCheckPublicURL(t *testing.T) {
	tests := []struct {
		url     string
		private bool
	}{
		{"https://93.184.215.14/", false},
		{"http://127.0.0.1/admin", true},
		{"http://localhost:3000/", true},
		{"http://10.0.0.1/internal", true},
		{"http://192.168.1.1/api", true},
		{"http://172.16.0.1/secret", true},
		{"http://169.254.169.254/latest", true},
		{"http://[::1]/api", true},
		{"http://[::ffff:10.0.0.1]/", true},
		{"http://0.0.0.0/", true},
	}
	for _, tt := range tests {
		err := CheckPublicURL(tt.url)
		if tt.private != errors.Is(err, ErrSSRF) {
			t.Errorf("CheckPublicURL(%q) = %v, private=%v", tt.url, err, tt.private)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	if err := ValidateIdentifier("page-1_home.v2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "../etc/passwd", "has spaces", strings.Repeat("a", 129)} {
		if err := ValidateIdentifier(bad); !errors.Is(err, ErrBadIdentifier) {
			t.Errorf("ValidateIdentifier(%q) = %v", bad, err)
		}
	}
}
