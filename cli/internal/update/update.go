package update

import (
	"fmt"
	"runtime"

	"github.com/hashicorp/go-version"

	"github.com/dgsalas/django/cli/internal/ui"
)

// latestKnown is the most recent release baked in at build time. A released
// binary learns about newer versions only when rebuilt; there is no phone
// home.
var latestKnown = "0.1.0"

// CheckForUpdates compares the running version against the latest known
// release and prints upgrade instructions when behind.
func CheckForUpdates(currentVersion string) error {
	current, err := version.NewVersion(currentVersion)
	if err != nil {
		return fmt.Errorf("invalid version format: %w", err)
	}

	latest, err := version.NewVersion(latestKnown)
	if err != nil {
		return fmt.Errorf("invalid latest version format: %w", err)
	}

	if current.LessThan(latest) {
		ui.PrintWarning("A new version is available!")
		fmt.Printf("Current version: %s\n", currentVersion)
		fmt.Printf("Latest version:  %s\n", latestKnown)
		fmt.Printf("\nUpdate with: go install github.com/dgsalas/django/cli@latest\n")
	}
	return nil
}

// DownloadURL returns the release artifact URL for the current platform.
func DownloadURL(ver string) string {
	return fmt.Sprintf("https://github.com/dgsalas/django/releases/download/v%s/django-go-%s-%s",
		ver, runtime.GOOS, runtime.GOARCH)
}
