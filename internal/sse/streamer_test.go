package sse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/beadhub/internal/events"
)

func TestParseCategories(t *testing.T) {
	assert.Nil(t, ParseCategories(""))
	assert.Nil(t, ParseCategories("  ,  "))

	set := ParseCategories("bead, message")
	require.NotNil(t, set)
	assert.True(t, set[events.CategoryBead])
	assert.True(t, set[events.CategoryMessage])
	assert.False(t, set[events.CategoryChat])
}

func TestFrameFor_NoFilter(t *testing.T) {
	frame, ok := frameFor(`{"type":"bead.claimed"}`, nil)
	require.True(t, ok)
	assert.Equal(t, "data: {\"type\":\"bead.claimed\"}\n\n", frame)
}

func TestFrameFor_Filter(t *testing.T) {
	cats := map[events.Category]bool{events.CategoryBead: true}

	_, ok := frameFor(`{"type":"message.delivered"}`, cats)
	assert.False(t, ok)

	frame, ok := frameFor(`{"type":"bead.status_changed","bead_id":"bh-1"}`, cats)
	require.True(t, ok)
	assert.Contains(t, frame, "bh-1")
}

func TestFrameFor_InvalidJSONDropped(t *testing.T) {
	_, ok := frameFor("not json", map[events.Category]bool{events.CategoryBead: true})
	assert.False(t, ok)
}

func TestStreamEmpty_CancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- streamEmpty(ctx, 10*time.Millisecond, func(string) error { return nil })
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

func TestStreamEmpty_SendErrorStops(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		done <- streamEmpty(context.Background(), 5*time.Millisecond, func(string) error {
			return errors.New("client gone")
		})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream did not stop on send failure")
	}
}

func TestReconnectBackoffBounds(t *testing.T) {
	b := newReconnectBackoff()
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = b.NextBackOff()
	}
	assert.Equal(t, 5*time.Second, last)
}
