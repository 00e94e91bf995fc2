package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"imagepicker/discovery"
	"imagepicker/internal/panel"
)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	markStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

func statusStyle(kind panel.StatusKind) lipgloss.Style {
	switch kind {
	case panel.StatusSuccess:
		return successStyle
	case panel.StatusError:
		return errorStyle
	default:
		return infoStyle
	}
}

// printStatus is the panel's status line on stderr.
func printStatus(s panel.Status) {
	fmt.Fprintln(os.Stderr, statusStyle(s.Kind).Render(s.Text))
}

func checkbox(selected bool) string {
	if selected {
		return markStyle.Render("[x]")
	}
	return dimStyle.Render("[ ]")
}

func describe(d discovery.Descriptor) string {
	dims := dimStyle.Render(fmt.Sprintf("%4s %5dx%-5d", d.Kind, d.Width, d.Height))
	src := d.Source
	if discovery.IsDataURL(src) && len(src) > 48 {
		src = src[:48] + "..."
	}
	if d.Label != "" {
		return fmt.Sprintf("%s %s %s", dims, src, dimStyle.Render("("+d.Label+")"))
	}
	return dims + " " + src
}

// printGrid lists images with their selection marks and indexes.
func printGrid(w io.Writer, images []discovery.Descriptor, selected []string) {
	marked := make(map[string]bool, len(selected))
	for _, s := range selected {
		marked[s] = true
	}
	for i, d := range images {
		fmt.Fprintf(w, "%3d %s %s\n", i+1, checkbox(marked[d.Source]), describe(d))
	}
}

// termRenderer draws the overlay grid as terminal lines.
type termRenderer struct {
	mu    sync.Mutex
	w     io.Writer
	tabID string
}

func newTermRenderer(w io.Writer, tabID string) *termRenderer {
	return &termRenderer{w: w, tabID: tabID}
}

func (r *termRenderer) Show(images []discovery.Descriptor, selected []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, headerStyle.Render(fmt.Sprintf("Image grid (tab %s): %d images", r.tabID, len(images))))
	printGrid(r.w, images, selected)
}

func (r *termRenderer) Append(images []discovery.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range images {
		fmt.Fprintf(r.w, "  + %s\n", describe(d))
	}
}

func (r *termRenderer) Mark(source string, selected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "    %s %s\n", checkbox(selected), source)
}

func (r *termRenderer) Count(selected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, dimStyle.Render(fmt.Sprintf("%d selected", selected)))
}

func (r *termRenderer) Notify(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, errorStyle.Render(text))
}

func (r *termRenderer) Hide() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, dimStyle.Render(strings.Repeat("-", 8)+" grid closed"))
}
