package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/ralph-tui/ralph-tui/pkg/core"
)

// printEvents renders each typed event to stdout, colorized by family,
// mirroring the teacher's headless event consumer (cmd/alphie/run.go's
// consumeEventsHeadless) but against this spec's own event union.
func printEvents(events <-chan core.Event) {
	for ev := range events {
		line := formatEvent(ev)
		switch {
		case strings.HasPrefix(string(ev.Type), "worker:failed"), strings.HasPrefix(string(ev.Type), "merge:failed"), strings.HasPrefix(string(ev.Type), "parallel:failed"):
			color.Red(line)
		case strings.HasPrefix(string(ev.Type), "conflict:"):
			color.Yellow(line)
		case strings.HasPrefix(string(ev.Type), "merge:completed"), strings.HasPrefix(string(ev.Type), "parallel:completed"):
			color.Green(line)
		default:
			fmt.Println(line)
		}
	}
}

func formatEvent(ev core.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", ev.Type)
	if ev.TaskTitle != "" {
		fmt.Fprintf(&b, " %s", ev.TaskTitle)
	} else if ev.TaskID != "" {
		fmt.Fprintf(&b, " task=%s", ev.TaskID)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, ": %s", ev.Message)
	}
	if ev.Error != nil {
		fmt.Fprintf(&b, " error=%v", ev.Error)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, " reason=%s", ev.Reason)
	}
	return b.String()
}
