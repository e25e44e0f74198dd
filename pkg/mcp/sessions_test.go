package mcp

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_AddRemove(t *testing.T) {
	r := NewSessionRegistry()

	r.Add("session-abc")
	r.Add("session-abc")
	assert.True(t, r.Has("session-abc"))
	assert.Equal(t, 1, r.Count())

	r.Remove("session-abc")
	assert.False(t, r.Has("session-abc"))
	assert.Equal(t, 0, r.Count())

	r.Remove("never-added")
}

func TestSessionRegistry_Concurrent(t *testing.T) {
	r := NewSessionRegistry()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			r.Add(id)
			_ = r.Has(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Count())
}
