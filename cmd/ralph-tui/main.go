// Command ralph-tui is the reference entrypoint for the orchestration
// core: it wires a filesystem Tracker, a CLI-subprocess AgentRunner, and
// a loaded config.Config into internal/executor and runs one session to
// completion. Grounded on the teacher's cmd/alphie entrypoint shape
// (root command + Execute()), trimmed to this spec's narrower surface.
package main

func main() {
	Execute()
}
