package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/tutu-network/sentinel/internal/domain"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// Renders a pipeline's stage progress as a terminal bar:
// [scrape] [=================>............]  60%

const barWidth = 30

// colorEnabled reports whether stderr is a real terminal, so the bar can
// skip ANSI codes when output is piped or redirected.
func colorEnabled() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}

// renderStage prints the current stage name and percent complete for one
// still-running pipeline task, overwriting the previous line.
func renderStage(stage domain.TaskType, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	filled := pct * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	var bar string
	if filled == barWidth {
		bar = strings.Repeat("=", filled)
	} else if filled > 0 {
		bar = strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty)
	} else {
		bar = strings.Repeat(".", barWidth)
	}

	clearLine()
	if colorEnabled() {
		fmt.Fprintf(os.Stderr, "  \033[36m[%s]\033[0m [%s] %3d%%", stage, bar, pct)
	} else {
		fmt.Fprintf(os.Stderr, "  [%s] [%s] %3d%%", stage, bar, pct)
	}
}

func clearLine() {
	fmt.Fprintf(os.Stderr, "\r\033[K")
}
