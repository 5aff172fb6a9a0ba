package cli

import (
	"github.com/charmbracelet/huh/spinner"
)

// withSpinner runs fn behind a spinner. JSON mode runs it bare so stdout
// stays machine-readable.
func withSpinner(title string, fn func() error) error {
	if outputJSON {
		return fn()
	}

	var actionErr error
	err := spinner.New().
		Title("  " + title).
		Action(func() {
			actionErr = fn()
		}).
		Run()
	if err != nil {
		return err
	}
	return actionErr
}
