package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := NewFake()
	var order []string
	c.AfterFunc(5*time.Second, func() { order = append(order, "liveness") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "kill") })

	c.Advance(time.Second)
	assert.Empty(t, order)
	assert.Equal(t, 2, c.Pending())

	c.Advance(10 * time.Second)
	assert.Equal(t, []string{"kill", "liveness"}, order)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeStop(t *testing.T) {
	c := NewFake()
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)

	tm = c.AfterFunc(time.Second, func() { fired = true })
	c.Advance(time.Second)
	assert.True(t, fired)
	assert.False(t, tm.Stop())
}

func TestRealAfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
