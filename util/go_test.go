package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoroutineID(t *testing.T) {
	self := GoroutineID()
	assert.Positive(t, self)
	assert.Equal(t, self, GoroutineID())

	other := make(chan int)
	go func() { other <- GoroutineID() }()
	assert.NotEqual(t, self, <-other)
}
