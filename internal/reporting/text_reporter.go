package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/scenario"
)

// TextReporter writes a human-readable summary as each report arrives.
type TextReporter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	total  int
	failed int
}

func (r *TextReporter) Write(rep scenario.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if !rep.Passed {
		r.failed++
	}

	var b strings.Builder
	verdict := "PASS"
	if !rep.Passed {
		verdict = "FAIL"
	}
	fmt.Fprintf(&b, "%s %s (%d/%d steps, %s)\n", verdict, rep.Scenario, PassedSteps(rep), len(rep.Results)+len(rep.Skipped), rep.Duration.Round(time.Millisecond))
	if rep.Error != "" {
		fmt.Fprintf(&b, "    error: %s\n", rep.Error)
	}
	for _, res := range rep.Results {
		if res.Status == schemas.StatusSuccess {
			continue
		}
		fmt.Fprintf(&b, "    %s %q: %s", strings.ToUpper(string(res.Status)), res.Intent.RawText, res.Evidence.ErrorCode)
		if res.Evidence.Error != "" {
			fmt.Fprintf(&b, " %s", res.Evidence.Error)
		}
		b.WriteByte('\n')
		for _, c := range res.Evidence.Candidates {
			fmt.Fprintf(&b, "        candidate %.2f %s\n", c.Score, c.Description)
		}
		for _, alt := range res.Evidence.Alternatives {
			fmt.Fprintf(&b, "        could mean %s\n", alt)
		}
		if res.Evidence.ScreenshotRef != "" {
			fmt.Fprintf(&b, "        screenshot %s\n", res.Evidence.ScreenshotRef)
		}
	}
	for _, s := range rep.Skipped {
		fmt.Fprintf(&b, "    SKIPPED %q\n", s)
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

// Close prints the totals line.
func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total > 1 {
		fmt.Fprintf(r.w, "%d scenarios, %d failed\n", r.total, r.failed)
	}
	return r.w.Close()
}

// PassedSteps counts the successful steps of a report.
func PassedSteps(rep scenario.Report) int {
	n := 0
	for _, res := range rep.Results {
		if res.Status == schemas.StatusSuccess {
			n++
		}
	}
	return n
}
