// Package ui renders the terminal output of the one-shot CLI commands.
//
// Components follow a "run once and exit" pattern: they show live progress
// while a command works and finish with a styled result box, but never
// wait for user input.
//
//   - Progress: step list with a progress bar
//   - Result: success or failure box with details and troubleshooting tips
//   - RunStages: a Bubble Tea program that animates a Progress while a
//     watcher reports which stage has been reached
//
// Example:
//
//	err := ui.RunStages(ctx, os.Stdout, "Probing 192.168.1.110", steps,
//	    func(report ui.StageReporter) error {
//	        report(1, "")
//	        // ... work ...
//	        report(2, "session 1234")
//	        return nil
//	    })
//
//	ui.NewSuccessResult("VTO probe complete").
//	    AddDetail("Device", "VTO2111D").
//	    Render()
//
// Commands fall back to plain output when stdout is not a terminal; see
// IsTerminal. Logging stays silent unless a level is configured, so it does
// not tear through the rendered output.
package ui
