// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package set

import (
	"iter"
	"maps"
	"slices"
	"strings"
)

type Set[T comparable] map[T]struct{}

func Of[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func (s Set[T]) Len() int {
	return len(s)
}

func (s Set[T]) Has(item T) bool {
	_, has := s[item]
	return has
}

func (s Set[T]) Add(item T) {
	s[item] = struct{}{}
}

func (s Set[T]) Discard(item T) {
	delete(s, item)
}

func (s Set[T]) Iter() iter.Seq[T] {
	return maps.Keys(s)
}

// Sorted returns the members of a string set in ascending order.
func Sorted[T ~string](s Set[T]) []T {
	return slices.SortedFunc(s.Iter(), func(a, b T) int { return strings.Compare(string(a), string(b)) })
}
