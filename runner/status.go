package runner

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/gammadia/tune/trial"
	"github.com/rivo/uniseg"
	"github.com/samber/lo"
)

// Maximum number of names listed per status when the terminal width is unknown
const maxStatusItems = 20

var statusLabels = []struct {
	status trial.Status
	emoji  string
	last   bool
}{
	{trial.StatusPending, "⏳", false},
	{trial.StatusRunning, "⚙️", false},
	{trial.StatusTerminated, "✅", true},
	{trial.StatusError, "💥", true},
}

// emojiLabel returns the emoji followed by spacing equal to its rune count,
// ensuring consistent alignment regardless of emoji rendering width.
func emojiLabel(emoji string) string {
	return emoji + strings.Repeat(" ", utf8.RuneCountInString(emoji))
}

// formatItems formats a list of trial names to fit on a line of lineLength
// grapheme clusters. When last is true, the last items are shown (with "… "
// prefix); otherwise the first ones.
func formatItems(items []string, last bool, lineLength int) string {
	nbItems := len(items)
	if nbItems < 1 {
		return ""
	}

	displayItems := maxStatusItems
	if lineLength <= 0 {
		lineLength = 180
	} else {
		displayItems = nbItems
	}
	partial := nbItems > displayItems
	var nItems []string
	for displayItems > 0 {
		if last {
			nItems = items[max(0, nbItems-displayItems):]
		} else {
			nItems = items[:min(nbItems, displayItems)]
		}
		if uniseg.GraphemeClusterCount(strings.Join(nItems, " ")) <= lineLength {
			break
		}
		displayItems -= 1
		partial = true
	}

	if last {
		return fmt.Sprintf("%s%s (%s%d)", lo.Ternary(partial, "… ", ""), strings.Join(nItems, " "), emojiLabel("📝"), nbItems)
	}
	return fmt.Sprintf("%s%s (%s%d)", strings.Join(nItems, " "), lo.Ternary(partial, " …", ""), emojiLabel("📝"), nbItems)
}

// renderStatus describes the state of the run.
func (r *Runner) renderStatus() string {
	lines := []string{
		"== Status ==",
		r.sched.String(),
		fmt.Sprintf("Resources requested: %d/%d CPUs, %d/%d GPUs", r.used.CPU, r.capacity.CPU, r.used.GPU, r.capacity.GPU),
	}

	dirs := lo.Uniq(lo.Map(r.trials, func(t *trial.Trial, _ int) string { return filepath.Dir(t.Dir) }))
	if len(dirs) > 0 {
		lines = append(lines, "Result logdir: "+strings.Join(dirs, ", "))
	}

	byStatus := lo.GroupBy(r.trials, func(t *trial.Trial) trial.Status { return t.Status })
	counts := []string{}
	for _, label := range statusLabels {
		if n := len(byStatus[label.status]); n > 0 {
			counts = append(counts, fmt.Sprintf("%s: %d", label.status, n))
		}
	}
	lines = append(lines, fmt.Sprintf("Number of trials: %d (%s)", len(r.trials), strings.Join(counts, ", ")))

	width := r.config.TermWidth()
	for _, label := range statusLabels {
		trials := byStatus[label.status]
		if len(trials) == 0 {
			continue
		}
		prefix := fmt.Sprintf("%s%s: ", emojiLabel(label.emoji), label.status)
		names := lo.Map(trials, func(t *trial.Trial, _ int) string { return t.Name })
		line := prefix + formatItems(names, label.last, lo.Ternary(width > 0, width-uniseg.GraphemeClusterCount(prefix), 0))
		if label.status == trial.StatusError {
			line = color.HiRedString("%s", line)
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

func (r *Runner) report() {
	if r.config.Output == nil {
		return
	}
	fmt.Fprintln(r.config.Output, r.renderStatus())
}
