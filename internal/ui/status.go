package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// One-line status prints used across the commands.

func Success(format string, args ...any) {
	fmt.Printf("%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func Fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("✗"), fmt.Sprintf(format, args...))
}

func Warn(format string, args ...any) {
	fmt.Printf("%s %s\n", color.YellowString("⚠"), fmt.Sprintf(format, args...))
}

func Info(format string, args ...any) {
	fmt.Printf("%s %s\n", color.CyanString("▸"), fmt.Sprintf(format, args...))
}
