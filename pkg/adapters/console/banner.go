package console

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{` _                                    `, "#818cf8"},
	{`| |__   __ _ _ __ _ __   ___  ___ ___ `, "#a78bfa"},
	{`| '_ \ / _' | '__| '_ \ / _ \/ __/ __|`, "#c084fc"},
	{`| | | | (_| | |  | | | |  __/\__ \__ \`, "#e879f9"},
	{`|_| |_|\__,_|_|  |_| |_|\___||___/___/`, "#f472b6"},
}

// PrintBanner writes the harness banner and version to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  v"+version).Faint())
	fmt.Fprintln(w)
}
