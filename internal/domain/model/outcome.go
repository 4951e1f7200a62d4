/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/evo-auth/internal/domain"
)

// Outcome is the result of one verification attempt against one node.
// The zero value is OutcomeIndeterminate, so an attempt that never reached a
// conclusion can not be mistaken for a rejection.
type Outcome int

const (
	OutcomeIndeterminate Outcome = iota
	OutcomeVerified
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeRejected:
		return "rejected"
	case OutcomeIndeterminate:
		return "indeterminate"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "verified":
		*o = OutcomeVerified
	case "rejected":
		*o = OutcomeRejected
	case "indeterminate":
		*o = OutcomeIndeterminate
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

func (o Outcome) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(o.String())
}

func (o *Outcome) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	return o.UnmarshalText([]byte(s))
}

// Classify maps the error returned by a node attempt to its outcome.
// A nil error means the node said yes.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeVerified
	case errors.Is(err, domain.ErrRejected):
		return OutcomeRejected
	default:
		return OutcomeIndeterminate
	}
}
