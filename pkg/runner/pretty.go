package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora"

	"github.com/testground/sequencer/pkg/api"
	"github.com/testground/sequencer/pkg/logging"
)

// PrettyPrinter renders a sequence report on the console, one line per
// executed iteration plus a summary.
type PrettyPrinter struct {
	aurora aurora.Aurora

	ok    aurora.Value
	fail  aurora.Value
	over  aurora.Value
	abort aurora.Value
}

// NewPrettyPrinter constructs a console printer; colors are enabled only
// when stdout is a TTY.
func NewPrettyPrinter() *PrettyPrinter {
	au := aurora.NewAurora(logging.IsTerminal())
	return &PrettyPrinter{
		aurora: au,
		ok:     au.BgGreen(" OK ").White(),
		fail:   au.BgRed("FAIL").White(),
		over:   au.BgYellow("OVER").Black(),
		abort:  au.BgBrightRed("ABORTED").White(),
	}
}

// Print writes the full report to stdout.
func (p *PrettyPrinter) Print(report *api.SequenceReport) {
	var total time.Duration

	for _, e := range report.Entries {
		class := p.ok
		if !e.Success {
			class = p.fail
		}

		budget := ""
		if e.OverBudget {
			budget = " " + p.over.String()
		}

		msg := ""
		if e.Error != "" {
			msg = " " + e.Error
		}

		fmt.Printf("%9.4fs %s %s#%d%s%s\n",
			e.Elapsed.Seconds(),
			class,
			e.Step,
			e.Iteration,
			budget,
			msg,
		)

		total += e.Elapsed
	}

	if report.Aborted {
		fmt.Printf("%s sequence aborted after %d iteration(s)\n", p.abort, len(report.Entries))
	}

	end := time.Now()
	fmt.Printf("%d iteration(s), %d failure(s), %s of test time\n",
		len(report.Entries),
		report.Failures(),
		strings.TrimSpace(humanize.RelTime(end.Add(-total), end, "", "")),
	)
}
