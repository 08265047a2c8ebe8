package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/dagwatch/internal/domain/events"
)

func TestSink_CapturesInOrder(t *testing.T) {
	t.Parallel()

	sink := New()
	ctx := context.Background()

	require.NoError(t, sink.Send(ctx, events.EventTypeSubmitStart, map[string]any{events.FieldJobID: "a"}))
	require.NoError(t, sink.Send(ctx, events.EventTypeSubmitEnd, map[string]any{events.FieldJobID: "a"}))

	assert.Equal(t, []events.EventType{events.EventTypeSubmitStart, events.EventTypeSubmitEnd}, sink.TypeSequence())

	captured := sink.Events()
	require.Len(t, captured, 2)
	assert.Equal(t, "a", captured[0].Fields[events.FieldJobID])
}

func TestSink_FailWith(t *testing.T) {
	t.Parallel()

	sink := New()
	ctx := context.Background()
	wantErr := errors.New("database unreachable")

	sink.FailWith(wantErr)
	assert.ErrorIs(t, sink.Send(ctx, events.EventTypeWorkflowStart, nil), wantErr)
	assert.Empty(t, sink.Events())

	sink.FailWith(nil)
	require.NoError(t, sink.Send(ctx, events.EventTypeWorkflowStart, nil))
	assert.Len(t, sink.Events(), 1)
}

func TestSink_Close(t *testing.T) {
	t.Parallel()

	sink := New()
	assert.False(t, sink.Closed())
	require.NoError(t, sink.Close())
	assert.True(t, sink.Closed())
}
