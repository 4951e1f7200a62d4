/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_Missing(t *testing.T) {
	s := NewSet("userIP", "serverID")
	assert.True(t, s.Has("userIP"))
	assert.False(t, s.Has("error"))
	assert.Equal(t, []string{"error", "username"}, s.Missing("userIP", "error", "serverID", "username"))
	assert.Nil(t, s.Missing("serverID"))
}

func TestRenderCBORPretty(t *testing.T) {
	encoded, err := cbor.Marshal(map[any]any{
		"name": "auth1",
		1:      []byte{0xde, 0xad},
		"tag":  cbor.Tag{Number: 1000, Content: uint64(1700000000)},
	})
	require.Nil(t, err)

	pretty, err := RenderCBORPretty(encoded)
	require.Nil(t, err)

	var got map[string]any
	require.Nil(t, json.Unmarshal([]byte(pretty), &got))
	assert.Equal(t, "auth1", got["name"])
	assert.Equal(t, "h'dead'", got["1"])
	tag, ok := got["tag"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1000), tag["_cborTag"])
}

func TestRenderCBORPretty_Invalid(t *testing.T) {
	_, err := RenderCBORPretty([]byte{0xff, 0xff})
	assert.NotNil(t, err)
}
