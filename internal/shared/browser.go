package shared

import (
	"fmt"
	"os/exec"
	"runtime"
)

// openers maps GOOS to the command that hands a URL to the desktop.
var openers = map[string][]string{
	"darwin":  {"open"},
	"linux":   {"xdg-open"},
	"freebsd": {"xdg-open"},
	"windows": {"rundll32", "url.dll,FileProtocolHandler"},
}

var startCommand = func(cmd *exec.Cmd) error { return cmd.Start() }

// openerCommand builds the launch command for url on goos.
func openerCommand(goos, url string) (*exec.Cmd, error) {
	argv, ok := openers[goos]
	if !ok {
		return nil, fmt.Errorf("no URL opener known for %s; visit the authorization URL manually", goos)
	}
	args := append(append([]string{}, argv[1:]...), url)
	return exec.Command(argv[0], args...), nil
}

// OpenBrowser hands the Spotify authorization URL to the platform opener
// and returns without waiting for the browser.
func OpenBrowser(url string) error {
	cmd, err := openerCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}
	if err := startCommand(cmd); err != nil {
		return fmt.Errorf("launching %s for authorization: %w", cmd.Path, err)
	}
	return nil
}
