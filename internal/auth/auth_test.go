package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalizeToken(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", "abc123", "abc123"},
		{"prefixed", "Token abc123", "abc123"},
		{"whitespace", "  Token abc123\n", "abc123"},
		{"empty", "", ""},
		{"prefix only", "Token ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeToken(tt.in); got != tt.want {
				t.Errorf("NormalizeToken(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadToken(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		if err := os.WriteFile(path, []byte("Token secret\n"), 0600); err != nil {
			t.Fatalf("write token: %v", err)
		}

		token, err := LoadToken(path)
		if err != nil {
			t.Fatalf("LoadToken failed: %v", err)
		}
		if token != "secret" {
			t.Errorf("token = %q, want %q", token, "secret")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		if err := os.WriteFile(path, []byte("  \n"), 0600); err != nil {
			t.Fatalf("write token: %v", err)
		}

		if _, err := LoadToken(path); err != ErrEmptyToken {
			t.Errorf("expected ErrEmptyToken, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadToken(filepath.Join(t.TempDir(), "nope")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestCredentials_HTTPHeader(t *testing.T) {
	creds := Credentials{Token: "abc"}
	if got := creds.HTTPHeader().Get("Authorization"); got != "Token abc" {
		t.Errorf("Authorization = %q, want %q", got, "Token abc")
	}

	if got := (Credentials{}).HTTPHeader().Get("Authorization"); got != "" {
		t.Errorf("Authorization without token = %q, want empty", got)
	}
}

func TestCredentials_WebSocketHeader(t *testing.T) {
	creds := Credentials{Token: "abc", UserID: 42}
	header := creds.WebSocketHeader("61")

	cookie := header.Get("Cookie")
	if !strings.Contains(cookie, `HTTP_AUTHORIZATION="Token abc"`) {
		t.Errorf("Cookie = %q, missing authorization", cookie)
	}
	if !strings.Contains(cookie, "edge_rollout=61") {
		t.Errorf("Cookie = %q, missing edge_rollout", cookie)
	}
	if got := header.Get("X-User-Id"); got != "42" {
		t.Errorf("X-User-Id = %q, want %q", got, "42")
	}
}
