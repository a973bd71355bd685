package audit

import (
	"log"

	"github.com/ralph-tui/ralph-tui/pkg/core"
)

// Subscribe drains emitter's event channel into db until it is closed,
// logging (but not stopping on) individual write failures so a full
// disk or corrupt audit file never takes down the orchestration run it
// is merely observing.
func Subscribe(emitter *core.Emitter, db *DB) {
	for ev := range emitter.Events() {
		if err := db.Record(ev); err != nil {
			log.Printf("audit: failed to record event %s: %v", ev.Type, err)
		}
	}
}
