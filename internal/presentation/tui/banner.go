package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []string{
	`                _       _   _               _   `,
	`  ___  ___ _ __(_)_ __ | |_| |__   ___  ___| |_ `,
	` / __|/ __| '__| | '_ \| __| '_ \ / _ \/ __| __|`,
	` \__ \ (__| |  | | |_) | |_| | | | (_) \__ \ |_ `,
	` |___/\___|_|  |_| .__/ \__|_| |_|\___/|___/\__|`,
	`                 |_|                            `,
}

var bannerColors = []string{"#34d399", "#2dd4bf", "#22d3ee", "#38bdf8", "#60a5fa", "#818cf8"}

// PrintBanner writes the coloured scripthost banner and the version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.EnvColorProfile()

	fmt.Fprintln(w)
	for i, line := range bannerLines {
		fmt.Fprintln(w, termenv.String(line).Foreground(p.Color(bannerColors[i])))
	}
	fmt.Fprintln(w, termenv.String("  lua session host "+version).Faint())
	fmt.Fprintln(w)
}
