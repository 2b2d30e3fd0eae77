package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	a := NewID("msg")
	b := NewID("msg")
	assert.True(t, strings.HasPrefix(a, "msg-"))
	assert.NotEqual(t, a, b)
	assert.Len(t, NewID(""), 36)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "3f2a1b4c", ShortID("msg-3f2a1b4c-aaaa-bbbb-cccc-000000000000"))
	assert.Equal(t, "3f2a1b4c", ShortID("3f2a1b4c-aaaa-bbbb-cccc-000000000000"))
	assert.Equal(t, "abc", ShortID("abc"))
}
