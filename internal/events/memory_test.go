package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryEmitterRecordsInOrder(t *testing.T) {
	emitter := NewMemoryEmitter()
	ctx := context.Background()

	require.NoError(t, emitter.Emit(ctx, New(TypeRemittanceCreated, Payload{RecordID: "a"})))
	require.NoError(t, emitter.Emit(ctx, New(TypeRemittanceAccepted, Payload{RecordID: "a"})))

	require.Equal(t, []string{TypeRemittanceCreated, TypeRemittanceAccepted}, emitter.Types())

	recorded := emitter.Events()
	require.Len(t, recorded, 2)
	require.Equal(t, "wasel-ledger", recorded[0].Source)
	require.NotEmpty(t, recorded[0].ID)
	require.False(t, recorded[0].OccurredAt.IsZero())
}

func TestEventsReturnsCopy(t *testing.T) {
	emitter := NewMemoryEmitter()
	require.NoError(t, emitter.Emit(context.Background(), New(TypeOrderDelivered, Payload{RecordID: "1"})))

	snapshot := emitter.Events()
	snapshot[0].Type = "mutated"
	require.Equal(t, []string{TypeOrderDelivered}, emitter.Types())
}
