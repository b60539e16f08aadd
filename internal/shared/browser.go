package shared

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// BrowserEnv names a command that replaces the platform opener. "none" disables opening.
const BrowserEnv = "BROWSER"

// ErrNoBrowser is returned by [OpenBrowser] when opening is disabled or unsupported.
var ErrNoBrowser = fmt.Errorf("no browser available")

// browserCommand returns the argv that opens url on goos, honoring an override from [BrowserEnv].
func browserCommand(goos, override, url string) ([]string, error) {
	if override = strings.TrimSpace(override); override != "" {
		if override == "none" {
			return nil, ErrNoBrowser
		}
		return append(strings.Fields(override), url), nil
	}

	switch goos {
	case "darwin":
		return []string{"open", url}, nil
	case "linux", "freebsd", "openbsd":
		return []string{"xdg-open", url}, nil
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler", url}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported platform %s", ErrNoBrowser, goos)
	}
}

// OpenBrowser starts the default system browser on url without waiting for it to exit.
func OpenBrowser(ctx context.Context, url string) error {
	argv, err := browserCommand(runtime.GOOS, os.Getenv(BrowserEnv), url)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	go cmd.Wait()
	return nil
}
