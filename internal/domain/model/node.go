/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/evo-auth/internal/domain"
)

// ProtocolVersion selects the URL shapes and response fields a node speaks.
type ProtocolVersion int

const (
	ProtocolUnknown ProtocolVersion = iota
	ProtocolV1
	ProtocolV2
)

func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolV1:
		return "v1"
	case ProtocolV2:
		return "v2"
	default:
		return "unknown"
	}
}

// ParseProtocolVersion accepts "v1", "v2" and the legacy "v2_plaintext".
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v1", "1":
		return ProtocolV1, nil
	case "v2", "2", "v2_plaintext":
		return ProtocolV2, nil
	default:
		return ProtocolUnknown, fmt.Errorf("%w: %q", domain.ErrUnsupportedVersion, s)
	}
}

func (v ProtocolVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *ProtocolVersion) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocolVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v ProtocolVersion) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(v.String())
}

func (v *ProtocolVersion) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	return v.UnmarshalText([]byte(s))
}

// NodeEndpoint is one trust node. ID and CreatedAt are only set for nodes
// stored in the registry database.
type NodeEndpoint struct {
	ID        int64           `json:"id,omitempty" cbor:"-"`
	BaseURL   string          `json:"url" cbor:"url"`
	Version   ProtocolVersion `json:"version" cbor:"version"`
	Enabled   bool            `json:"enabled" cbor:"-"`
	CreatedAt time.Time       `json:"createdAt,omitzero" cbor:"-"`
}

func (n NodeEndpoint) String() string {
	return fmt.Sprintf("%s (%s)", n.BaseURL, n.Version)
}
