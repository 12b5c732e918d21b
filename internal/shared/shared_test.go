package shared

import (
	"bytes"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
)

func TestCollapseSpaces(t *testing.T) {
	tc := []struct {
		name string
		in   string
		want string
	}{
		{name: "basic", in: "Song Title", want: "Song Title"},
		{name: "extra whitespace", in: "  Song   Title  ", want: "Song Title"},
		{name: "tabs and newlines", in: "Song\t\nTitle", want: "Song Title"},
		{name: "empty", in: "   ", want: ""},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := CollapseSpaces(tt.in); got != tt.want {
				t.Errorf("CollapseSpaces() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tc := map[string]log.Level{
		"debug":   log.DebugLevel,
		"WARN":    log.WarnLevel,
		"error":   log.ErrorLevel,
		"":        log.InfoLevel,
		"verbose": log.InfoLevel,
	}
	for in, want := range tc {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(NewLogger(&buf))
	logger.Info("supervisor event", "service", "scheduler")

	if !bytes.Contains(buf.Bytes(), []byte("supervisor event")) {
		t.Errorf("expected message in output, got %q", buf.String())
	}
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := GenerateState()
	if a == "" || a == b {
		t.Errorf("expected distinct non-empty states, got %q and %q", a, b)
	}
}

func TestTokenFiles(t *testing.T) {
	t.Run("SaveToken and LoadToken", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tokens", "spotify.json")
		token := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer"}

		if err := SaveToken(path, token); err != nil {
			t.Fatalf("failed to save token: %v", err)
		}

		loaded, err := LoadToken(path)
		if err != nil {
			t.Fatalf("failed to load token: %v", err)
		}
		if loaded.AccessToken != "access" || loaded.RefreshToken != "refresh" {
			t.Errorf("unexpected token: %+v", loaded)
		}
	})

	t.Run("LoadToken missing file", func(t *testing.T) {
		_, err := LoadToken(filepath.Join(t.TempDir(), "missing.json"))
		if !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("DecodeToken", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte(`{"access_token":"a","refresh_token":"r"}`))
		token, err := DecodeToken(encoded)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token.RefreshToken != "r" {
			t.Errorf("expected refresh token r, got %q", token.RefreshToken)
		}

		if _, err := DecodeToken("%%%"); err == nil {
			t.Error("expected error for invalid base64")
		}
	})
}
