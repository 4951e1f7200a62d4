/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package evolutions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kentakayama/evo-auth/internal/domain"
	"github.com/kentakayama/evo-auth/internal/util"
)

// MalformedError reports a node response that could not be used: either it
// was not a JSON object, it lacked required fields (all of them are listed),
// or a field had the wrong type.
type MalformedError struct {
	Missing []string
	Field   string
	Reason  string
}

func (e *MalformedError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("malformed response: missing fields %s", strings.Join(e.Missing, ", "))
	case e.Field != "":
		return fmt.Sprintf("malformed response: field %q %s", e.Field, e.Reason)
	default:
		return fmt.Sprintf("malformed response: %s", e.Reason)
	}
}

func (e *MalformedError) Unwrap() error {
	return domain.ErrMalformedResponse
}

// Fields is a decoded flat JSON object whose values are decoded lazily by
// type.
type Fields map[string]json.RawMessage

// DecodeFields parses body as a JSON object and checks that every required
// field is present.
func DecodeFields(body []byte, required ...string) (Fields, error) {
	var fields Fields
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &MalformedError{Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	if fields == nil {
		return nil, &MalformedError{Reason: "not a JSON object: null"}
	}

	present := util.NewSet[string]()
	for k := range fields {
		present.Add(k)
	}
	if missing := present.Missing(required...); len(missing) > 0 {
		return nil, &MalformedError{Missing: missing}
	}
	return fields, nil
}

// String reads key as a string. JSON numbers are accepted and returned in
// their literal form, since some nodes send numeric challenges.
func (f Fields) String(key string) (string, error) {
	raw, err := f.raw(key)
	if err != nil {
		return "", err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", &MalformedError{Field: key, Reason: fmt.Sprintf("is not a string: %s", raw)}
}

// Bool reads key as a boolean. Besides JSON booleans, the strings "true"
// and "false" are accepted in any case.
func (f Fields) Bool(key string) (bool, error) {
	raw, err := f.raw(key)
	if err != nil {
		return false, err
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, &MalformedError{Field: key, Reason: fmt.Sprintf("is not a boolean: %s", raw)}
}

// raw returns the trimmed JSON text of key. null counts as a wrong type,
// because encoding/json would silently decode it to a zero value.
func (f Fields) raw(key string) (json.RawMessage, error) {
	raw, ok := f[key]
	if !ok {
		return nil, &MalformedError{Missing: []string{key}}
	}
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return nil, &MalformedError{Field: key, Reason: "is null"}
	}
	return raw, nil
}
