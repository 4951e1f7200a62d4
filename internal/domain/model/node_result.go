/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

// NodeResult records how a single node answered during a run.
type NodeResult struct {
	Node    NodeEndpoint `cbor:"node" json:"node"`
	Outcome Outcome      `cbor:"outcome" json:"outcome"`
	Detail  string       `cbor:"detail,omitempty" json:"detail,omitempty"`
}

// Tally is the contribution of this result alone to a run's tally.
func (r NodeResult) Tally() Tally {
	return Tally{}.Add(r.Outcome)
}

// TallyOf merges the per-node tallies of results.
func TallyOf(results []NodeResult) Tally {
	var t Tally
	for _, r := range results {
		t = t.Merge(r.Tally())
	}
	return t
}
