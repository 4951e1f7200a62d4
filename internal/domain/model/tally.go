/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "fmt"

// Tally counts the per-node outcomes of one verification run.
// Values are never mutated in place; Add and Merge return a new Tally.
type Tally struct {
	Successful int `cbor:"successful" json:"successful"`
	Failed     int `cbor:"failed" json:"failed"`
	Errored    int `cbor:"errored" json:"errored"`
}

// OfflineTally is the result of a run that could not reach the network at
// all: every configured node is attributed to Errored.
func OfflineTally(nodeCount int) Tally {
	if nodeCount < 0 {
		nodeCount = 0
	}
	return Tally{Errored: nodeCount}
}

func (t Tally) Total() int {
	return t.Successful + t.Failed + t.Errored
}

func (t Tally) Add(o Outcome) Tally {
	switch o {
	case OutcomeVerified:
		t.Successful++
	case OutcomeRejected:
		t.Failed++
	default:
		t.Errored++
	}
	return t
}

func (t Tally) Merge(other Tally) Tally {
	return Tally{
		Successful: t.Successful + other.Successful,
		Failed:     t.Failed + other.Failed,
		Errored:    t.Errored + other.Errored,
	}
}

func (t Tally) String() string {
	return fmt.Sprintf("Successful: %d, Failed: %d, Errored: %d, Total: %d", t.Successful, t.Failed, t.Errored, t.Total())
}
