package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// warning prints a warning message to standard error.
func warning(message string) {
	fmt.Fprintln(color.Error, color.YellowString("Warning:"), message)
}

// errorMessage prints an error message to standard error.
func errorMessage(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
}

// fatal prints an error message to standard error and terminates the
// process with an error exit code.
func fatal(err error) {
	errorMessage(err)
	os.Exit(1)
}
