package shared

import (
	"errors"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
)

func TestOpenerCommand(t *testing.T) {
	const url = "https://accounts.spotify.com/authorize?state=x"

	tc := []struct {
		goos string
		want []string
	}{
		{goos: "darwin", want: []string{"open", url}},
		{goos: "linux", want: []string{"xdg-open", url}},
		{goos: "windows", want: []string{"rundll32", "url.dll,FileProtocolHandler", url}},
	}

	for _, tt := range tc {
		t.Run(tt.goos, func(t *testing.T) {
			cmd, err := openerCommand(tt.goos, url)
			if err != nil {
				t.Fatalf("openerCommand() error = %v", err)
			}
			got := slices.Clone(cmd.Args)
			got[0] = filepath.Base(got[0])
			if !slices.Equal(got, tt.want) {
				t.Errorf("args = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("unknown platform", func(t *testing.T) {
		_, err := openerCommand("plan9", url)
		if err == nil || !strings.Contains(err.Error(), "plan9") {
			t.Errorf("expected error naming the platform, got %v", err)
		}
	})
}

func TestOpenBrowser(t *testing.T) {
	orig := startCommand
	defer func() { startCommand = orig }()

	t.Run("launch failure is wrapped", func(t *testing.T) {
		boom := errors.New("exec failed")
		startCommand = func(*exec.Cmd) error { return boom }

		if _, known := openers[runtime.GOOS]; !known {
			t.Skip("no opener for this platform")
		}
		err := OpenBrowser("https://example.com")
		if !errors.Is(err, boom) {
			t.Errorf("expected wrapped launch error, got %v", err)
		}
	})

	t.Run("started command returns nil", func(t *testing.T) {
		var started *exec.Cmd
		startCommand = func(cmd *exec.Cmd) error { started = cmd; return nil }

		if _, known := openers[runtime.GOOS]; !known {
			t.Skip("no opener for this platform")
		}
		if err := OpenBrowser("https://example.com"); err != nil {
			t.Fatalf("OpenBrowser() error = %v", err)
		}
		if started == nil || started.Args[len(started.Args)-1] != "https://example.com" {
			t.Errorf("expected the URL as the last argument, got %v", started)
		}
	})
}
