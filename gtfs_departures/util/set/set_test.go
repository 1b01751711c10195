// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetOfAndSorted(t *testing.T) {
	s := Of("b", "a", "c", "a")
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("d"))
	assert.Equal(t, []string{"a", "b", "c"}, Sorted(s))

	s.Discard("b")
	assert.Equal(t, []string{"a", "c"}, Sorted(s))
}
