package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []string{
	`  ____            _`,
	` |  _ \ __ _ _ __| | ___ _   _`,
	` | |_) / _' | '__| |/ _ \ | | |`,
	` |  __/ (_| | |  | |  __/ |_| |`,
	` |_|   \__,_|_|  |_|\___|\__, |`,
	`                         |___/`,
}

var bannerColors = []string{"#818cf8", "#a78bfa", "#c084fc", "#e879f9", "#f472b6", "#fb7185"}

// PrintBanner writes the ASCII banner, colored when w supports it, and the version line.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	p := out.ColorProfile()

	fmt.Fprintln(w)
	for i, line := range bannerLines {
		fmt.Fprintln(w, out.String(line).Foreground(p.Color(bannerColors[i%len(bannerColors)])))
	}
	fmt.Fprintln(w)
	if version != "" {
		fmt.Fprintln(w, out.String("  v"+version+"  ·  type 'exit' to leave").Faint())
		fmt.Fprintln(w)
	}
}
