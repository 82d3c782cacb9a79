// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package infer

import "fmt"

// Stage is a state of a single inference.
type Stage int

const (
	Preparing Stage = iota
	MetadataRead
	PlanRequested
	PlanInterpreted
	Resolved
	TornDown
)

var stageNames = [...]string{
	Preparing:       "preparing",
	MetadataRead:    "metadata read",
	PlanRequested:   "plan requested",
	PlanInterpreted: "plan interpreted",
	Resolved:        "resolved",
	TornDown:        "torn down",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}
