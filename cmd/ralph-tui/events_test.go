package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/ralph-tui/ralph-tui/pkg/core"
)

func TestFormatEventIncludesTaskAndMessage(t *testing.T) {
	ev := core.Event{Type: core.EventWorkerCompleted, TaskTitle: "fix bug", Message: "2 commits"}
	line := formatEvent(ev)

	if !strings.Contains(line, string(ev.Type)) || !strings.Contains(line, "fix bug") || !strings.Contains(line, "2 commits") {
		t.Errorf("line = %q", line)
	}
}

func TestFormatEventIncludesErrorAndReason(t *testing.T) {
	ev := core.Event{Type: core.EventMergeFailed, Error: errors.New("boom"), Reason: "rollback"}
	line := formatEvent(ev)

	if !strings.Contains(line, "boom") || !strings.Contains(line, "rollback") {
		t.Errorf("line = %q", line)
	}
}

func TestFormatEventFallsBackToTaskID(t *testing.T) {
	ev := core.Event{Type: core.EventWorkerStarted, TaskID: "t1"}
	line := formatEvent(ev)

	if !strings.Contains(line, "task=t1") {
		t.Errorf("line = %q", line)
	}
}
