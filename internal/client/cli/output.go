package cli

import (
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

var (
	okLine   = color.New(color.FgGreen).PrintlnFunc()
	errLine  = color.New(color.FgRed).PrintlnFunc()
	infoLine = color.New(color.FgCyan).PrintlnFunc()
)

// withSpinner runs fn behind a terminal spinner. Tree decryption and
// subtree rotation are the only operations slow enough to warrant one.
func withSpinner(msg string, fn func() error) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + msg
	s.Start()
	defer s.Stop()
	return fn()
}
