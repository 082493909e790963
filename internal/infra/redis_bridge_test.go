package infra

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBridge_PublishedWindowDedupes(t *testing.T) {
	b := &RedisBridge{seen: make(map[string]struct{})}

	b.markPublished("msg-a")
	assert.True(t, b.publishedHere("msg-a"))
	assert.False(t, b.publishedHere("msg-b"))

	// Re-marking the same ID does not grow the window.
	b.markPublished("msg-a")
	assert.Len(t, b.order, 1)
}

func TestBridge_PublishedWindowAgesOut(t *testing.T) {
	b := &RedisBridge{seen: make(map[string]struct{})}

	b.markPublished("oldest")
	for i := 0; i < seenLimit; i++ {
		b.markPublished(fmt.Sprintf("msg-%d", i))
	}

	assert.False(t, b.publishedHere("oldest"), "window is bounded at %d", seenLimit)
	assert.True(t, b.publishedHere(fmt.Sprintf("msg-%d", seenLimit-1)))
	assert.Len(t, b.order, seenLimit)
}
