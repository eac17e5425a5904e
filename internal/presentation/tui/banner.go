package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the ASCII art banner for canopy.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{`   ___ __ _ _ __   ___  _ __  _   _ `, "#34d399"},
		{`  / __/ _' | '_ \ / _ \| '_ \| | | |`, "#10b981"},
		{` | (_| (_| | | | | (_) | |_) | |_| |`, "#059669"},
		{`  \___\__,_|_| |_|\___/| .__/ \__, |`, "#047857"},
		{`                       |_|    |___/ `, "#065f46"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
