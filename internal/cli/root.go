package cli

import (
	"fmt"
	"io"
	"os"
)

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "dispatch":
		return runDispatch(args[1:])
	case "batch":
		return runBatch(args[1:])
	case "approve":
		return runDecision(args[1:], "approve")
	case "reject":
		return runDecision(args[1:], "reject")
	case "job":
		return runJob(args[1:])
	case "voices":
		return runVoices(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	out := stdout
	fmt.Fprintln(out, "reelctl: operate a reelforge database directly")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  batch     create a batch job (--count, --a, --b, --mode, --preset, ...)")
	fmt.Fprintln(out, "  dispatch  run one dispatch pass")
	fmt.Fprintln(out, "  approve   approve a pending item: approve <job-id> <item-id> [--note]")
	fmt.Fprintln(out, "  reject    reject a pending item: reject <job-id> <item-id> [--note]")
	fmt.Fprintln(out, "  job       show a job with its items and outputs")
	fmt.Fprintln(out, "  voices    list voice profiles, or add one with: voices add --name --voice-id")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Notes:")
	fmt.Fprintln(out, "  - Every command accepts --config <path> (default $REELFORGE_CONFIG or ./config.yaml)")
	fmt.Fprintln(out, "  - Use --json for machine-readable output")
}
