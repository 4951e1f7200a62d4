/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package report

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/evo-auth/internal/domain/model"
	"github.com/kentakayama/evo-auth/internal/util"
	"github.com/kentakayama/evo-auth/internal/verify"
)

const (
	MediaTypeCBOR = "application/cbor"
	MediaTypeCOSE = `application/cose; cose-type="cose-sign1"`
)

// Report is the externally visible record of one verification run.
type Report struct {
	RunID    string             `cbor:"run_id" json:"runId"`
	Mode     verify.Mode        `cbor:"mode" json:"mode"`
	Username string             `cbor:"username" json:"username"`
	CallerIP string             `cbor:"caller_ip,omitempty" json:"callerIp,omitempty"`
	Offline  bool               `cbor:"offline,omitempty" json:"offline,omitempty"`
	Tally    model.Tally        `cbor:"tally" json:"tally"`
	Total    int                `cbor:"total" json:"total"`
	Nodes    []model.NodeResult `cbor:"nodes" json:"nodes"`
	IssuedAt time.Time          `cbor:"iat" json:"issuedAt"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// FromResult builds the report of a finished run.
func FromResult(res *verify.Result) *Report {
	nodes := res.Nodes
	if nodes == nil {
		nodes = []model.NodeResult{}
	}
	issuedAt := res.FinishedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	return &Report{
		RunID:    res.RunID.String(),
		Mode:     res.Mode,
		Username: res.Username,
		CallerIP: res.CallerIP,
		Offline:  res.Offline,
		Tally:    res.Tally,
		Total:    res.Tally.Total(),
		Nodes:    nodes,
		IssuedAt: issuedAt.UTC().Truncate(time.Second),
	}
}

// Encode uses deterministic encoding so a report always signs over
// the same bytes.
func (r *Report) Encode() ([]byte, error) {
	data, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (*Report, error) {
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// Pretty renders the CBOR form of r for logs and the terminal.
func (r *Report) Pretty() (string, error) {
	data, err := r.Encode()
	if err != nil {
		return "", err
	}
	return util.RenderCBORPretty(data)
}
