package cancellation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCancelPropagates(t *testing.T) {
	s := NewSender()
	r := s.Subscribe()
	assert.False(t, r.IsCancelled())

	var fired int
	r.AddCallback(func() { fired++ })

	s.Cancel()
	assert.True(t, r.IsCancelled())
	assert.Equal(t, 1, fired)

	// Second cancel is a no-op.
	s.Cancel()
	assert.Equal(t, 1, fired)
}

func TestCallbackAfterCancelRunsImmediately(t *testing.T) {
	s := NewSender()
	r := s.Subscribe()
	s.Cancel()

	var fired bool
	r.AddCallback(func() { fired = true })
	assert.True(t, fired)
}

func TestReceiverCount(t *testing.T) {
	s := NewSender()
	r1 := s.Subscribe()
	r2 := s.Subscribe()
	assert.Equal(t, 2, s.ReceiverCount())
	r1.Release()
	assert.Equal(t, 1, s.ReceiverCount())
	r2.Release()
	assert.Equal(t, 0, s.ReceiverCount())
}

func TestDummyNeverCancels(t *testing.T) {
	r := Dummy()
	assert.False(t, r.IsCancelled())
}
