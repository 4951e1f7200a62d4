/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// RenderCBORPretty decodes a CBOR item and renders it as indented JSON for
// diagnostic logs. Byte strings are shown in diagnostic notation (h'..').
func RenderCBORPretty(data []byte) (string, error) {
	var decoded any
	if err := cbor.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("decode CBOR: %w", err)
	}

	pretty, err := json.MarshalIndent(jsonFriendly(decoded), "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}

// jsonFriendly rewrites values encoding/json can not handle: maps with
// non-string keys, byte strings and tags.
func jsonFriendly(value any) any {
	switch v := value.(type) {
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[cborKeyString(key)] = jsonFriendly(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = jsonFriendly(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = jsonFriendly(elem)
		}
		return out
	case []byte:
		return fmt.Sprintf("h'%x'", v)
	case cbor.Tag:
		return map[string]any{
			"_cborTag": v.Number,
			"content":  jsonFriendly(v.Content),
		}
	default:
		return v
	}
}

func cborKeyString(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case []byte:
		return fmt.Sprintf("h'%x'", k)
	case fmt.Stringer:
		return k.String()
	default:
		return fmt.Sprint(k)
	}
}
