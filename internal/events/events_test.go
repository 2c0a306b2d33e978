package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineDeliveryCompletesBeforeEmitReturns(t *testing.T) {
	s := NewSubject()
	var got []string
	Subscribe(s, TopicActionAttempted, func(_ context.Context, e ActionAttempted) error {
		got = append(got, e.Command)
		return nil
	})

	require.NoError(t, Emit(context.Background(), s, TopicActionAttempted, ActionAttempted{Command: "click"}))
	require.NoError(t, Emit(context.Background(), s, TopicActionAttempted, ActionAttempted{Command: "type"}))
	assert.Equal(t, []string{"click", "type"}, got)
	assert.EqualValues(t, 2, s.Count())
}

func TestInlineDeliveryReturnsHandlerError(t *testing.T) {
	s := NewSubject()
	boom := errors.New("disk full")
	Subscribe(s, TopicActionAttempted, func(context.Context, ActionAttempted) error { return boom })

	err := Emit(context.Background(), s, TopicActionAttempted, ActionAttempted{})
	assert.ErrorIs(t, err, boom)

	err = Emit(context.Background(), s, TopicActionAttempted, "not an action")
	assert.ErrorContains(t, err, "type assertion failed")
}

func TestUnsubscribe(t *testing.T) {
	s := NewSubject()
	n := 0
	sub := Subscribe(s, TopicTakeoverChanged, func(context.Context, TakeoverChanged) error {
		n++
		return nil
	})
	_ = Emit(context.Background(), s, TopicTakeoverChanged, TakeoverChanged{})
	sub.Unsubscribe()
	sub.Unsubscribe()
	_ = Emit(context.Background(), s, TopicTakeoverChanged, TakeoverChanged{})
	assert.Equal(t, 1, n)
}

func TestLateSubscriberSeesOnlyLaterEvents(t *testing.T) {
	s := NewSubject()
	require.NoError(t, Emit(context.Background(), s, TopicTakeoverChanged, TakeoverChanged{ID: "t1", Status: "pending"}))

	var got []string
	Subscribe(s, TopicTakeoverChanged, func(_ context.Context, e TakeoverChanged) error {
		got = append(got, e.Status)
		return nil
	})
	assert.Empty(t, got)

	require.NoError(t, Emit(context.Background(), s, TopicTakeoverChanged, TakeoverChanged{ID: "t1", Status: "completed"}))
	assert.Equal(t, []string{"completed"}, got)
	assert.EqualValues(t, 2, s.Count())
}
