// Command lumahost hosts a single LV2 plugin with an X11 GUI on top of
// JACK. Usage:
//
//	lumahost <plugin-uri-or-search> [preset-number]
//
// A search term that matches more than one installed plugin opens a
// two-column pager to pick from; a plugin with presets prints the list
// and prompts unless the preset number was given on the command line.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/shaban/lumahost"
	"github.com/shaban/lumahost/lv2"
	"github.com/shaban/lumahost/ui"
)

const (
	pagerRows      = 10
	pagerCols      = 2
	maxColumnWidth = 40
)

func usage() {
	fmt.Println("Minimal LV2 X11 host")
	fmt.Println("Usage:")
	fmt.Printf("  %s plugin_uri [preset_number]\n", os.Args[0])
}

func banner() {
	fmt.Println("     ╦  ╦ ╦ ╔╦╗ ╔═╗")
	fmt.Println("     ║  ║ ║ ║║║ ╠═╣")
	fmt.Println("     ╩═╝╚═╝═╩╝╚═╝ ╩")
}

func main() {
	midiDebug := flag.Bool("midi-debug", false, "decode MIDI events sent to the UI into the debug log")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		return
	}

	world, err := lv2.OpenWorld()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	matches := world.Matches(flag.Arg(0))
	if len(matches) == 0 {
		fmt.Fprintln(os.Stderr, "No plugin found")
		world.Close()
		os.Exit(1)
	}

	banner()
	fmt.Printf("  Found %d matches:\n", len(matches))

	choice := 0
	if len(matches) > 1 {
		choice = pagerSelect(matches)
	}
	if choice < 0 {
		world.Close()
		return
	}
	fmt.Printf("Selected: %s\n", matches[choice].Name)

	plug, err := world.FindPlugin(matches[choice].URI)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		world.Close()
		os.Exit(1)
	}

	host := lumahost.New(plug)
	host.MidiDebug = *midiDebug

	if err := host.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		host.Close()
		os.Exit(1)
	}

	if uri, label, ok := choosePreset(host); ok {
		fmt.Printf("\nLoading preset: %s\n", label)
		host.ApplyPreset(uri, label)
	}

	if err := host.InitUI(loadUI); err != nil {
		fmt.Fprintln(os.Stderr, err)
		host.Close()
		os.Exit(1)
	}

	host.RunUILoop()
	host.Close()
}

func loadUI(info lumahost.UIInfo, cb lumahost.UIHostCallbacks) (lumahost.UI, error) {
	return ui.Load(info, cb)
}

// choosePreset prints the preset list and resolves the selection from the
// command line or a prompt. ok is false when the plugin has no presets or
// none was selected.
func choosePreset(host *lumahost.Host) (uri, label string, ok bool) {
	presets, err := host.Presets()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return "", "", false
	}
	if len(presets) == 0 {
		return "", "", false
	}

	fmt.Println("\n  Found presets:")
	for i, p := range presets {
		fmt.Printf("    [%d] %s\n", i, p.Label)
	}

	choice := -1
	if flag.NArg() >= 2 {
		if v, err := strconv.Atoi(flag.Arg(1)); err == nil {
			choice = v
		}
	} else {
		line, err := prompt("\nSelect preset (ENTER = default): ")
		if err == nil && line != "" {
			if v, err := strconv.Atoi(line); err == nil {
				choice = v
			}
		}
	}

	if choice < 0 || choice >= len(presets) {
		return "", "", false
	}
	return presets[choice].URI, presets[choice].Label, true
}

func prompt(text string) (string, error) {
	rl, err := readline.New(text)
	if err != nil {
		return "", err
	}
	defer rl.Close()
	line, err := rl.Readline()
	return strings.TrimSpace(line), err
}

var lastDrawnLines int

func clearPreviousOutput() {
	if lastDrawnLines <= 0 {
		return
	}
	fmt.Printf("\033[%dA", lastDrawnLines) // cursor up
	fmt.Print("\033[J")                    // clear to end of screen
	lastDrawnLines = 0
}

// pagerSelect pages the matches in two columns sized to the terminal and
// returns the selected index, or -1 when the user quits.
func pagerSelect(matches []lv2.Match) int {
	colWidth := 0
	for _, m := range matches {
		if len(m.Name) > colWidth {
			colWidth = len(m.Name)
		}
	}
	colWidth += 4
	if colWidth > maxColumnWidth {
		colWidth = maxColumnWidth
	}
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 && colWidth > width/pagerCols {
		colWidth = width / pagerCols
	}

	perPage := pagerRows * pagerCols
	index := 0
	for index < len(matches) {
		clearPreviousOutput()
		end := index + perPage
		if end > len(matches) {
			end = len(matches)
		}
		count := end - index
		rows := (count + pagerCols - 1) / pagerCols

		drawn := 0
		for row := 0; row < rows; row++ {
			for col := 0; col < pagerCols; col++ {
				i := index + row + col*rows
				if i >= end {
					continue
				}
				fmt.Printf("[%d] %-*s", i, colWidth, truncate(matches[i].Name, colWidth-1))
			}
			fmt.Println()
			drawn++
		}
		lastDrawnLines = drawn + 3 // instruction + prompt

		line, err := prompt("\nENTER = next Page | number = select Plugin | q = quit\n> ")
		if err != nil || line == "q" || line == "Q" {
			return -1
		}
		if v, convErr := strconv.Atoi(line); convErr == nil && v >= 0 && v < len(matches) {
			return v
		}
		index = end
	}

	line, err := prompt("\nList end, select plugin number or quit: ")
	if err == nil {
		if v, convErr := strconv.Atoi(line); convErr == nil && v >= 0 && v < len(matches) {
			return v
		}
	}
	return -1
}

func truncate(s string, n int) string {
	if n < 1 || len(s) <= n {
		return s
	}
	return s[:n]
}
