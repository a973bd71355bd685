package models

import "time"

// SessionState is the durable, resumable checkpoint for one parallel
// execution session. Map-valued fields are represented as slices of pairs
// at the JSON boundary (built by internal/executor), ordered by task id.
type SessionState struct {
	SessionID              string
	TaskGraph               SerializedGraph
	LastCompletedGroupIndex int
	MergedTaskIDs           []string
	FailedTaskIDs           []string
	RequeuedTaskIDs         []string
	SessionStartTag         string
	StartedAt               time.Time
	LastUpdatedAt           time.Time
	OriginalBranch          string
	SessionBranch           string
}

// SerializedGraph is the on-disk representation of the analyzed task
// graph, matching spec.md §6's session JSON schema.
type SerializedGraph struct {
	Nodes                []NodePair `json:"nodes"`
	Groups               []ParallelGroup `json:"groups"`
	CyclicTaskIDs        []string `json:"cyclicTaskIds"`
	ActionableTaskCount  int      `json:"actionableTaskCount"`
	MaxParallelism       int      `json:"maxParallelism"`
	RecommendParallel    bool     `json:"recommendParallel"`
}

// NodePair is an [id, node] pair used to serialize the nodes map as an
// array ordered by task id.
type NodePair struct {
	ID   string   `json:"id"`
	Node TaskNode `json:"node"`
}
