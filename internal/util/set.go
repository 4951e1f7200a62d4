/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

type Set[T comparable] map[T]struct{}

func NewSet[T comparable](values ...T) Set[T] {
	s := make(Set[T], len(values))
	for _, v := range values {
		s.Add(v)
	}
	return s
}

func (s Set[T]) Add(v T) {
	s[v] = struct{}{}
}

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

// Missing returns the elements of want that are not in s, in the order of want.
func (s Set[T]) Missing(want ...T) []T {
	var missing []T
	for _, v := range want {
		if !s.Has(v) {
			missing = append(missing, v)
		}
	}
	return missing
}
