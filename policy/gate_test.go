package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateAllowsKnownActionUnderCap(t *testing.T) {
	ctx := context.Background()
	gate, err := NewGate(ctx, DefaultGatePolicy)
	require.NoError(t, err)

	decision, err := gate.Evaluate(ctx, GateInput{
		Action:       "connection_note",
		ActionsTaken: 5,
		DailyLimit:   20,
	})
	require.NoError(t, err)
	assert.Equal(t, "allow", decision)
}

func TestGateBlocksAtDailyLimit(t *testing.T) {
	ctx := context.Background()
	gate, err := NewGate(ctx, DefaultGatePolicy)
	require.NoError(t, err)

	decision, err := gate.Evaluate(ctx, GateInput{
		Action:       "first_message",
		ActionsTaken: 20,
		DailyLimit:   20,
	})
	require.NoError(t, err)
	assert.Equal(t, "block", decision)
}

func TestGateBlocksUnknownAction(t *testing.T) {
	ctx := context.Background()
	gate, err := NewGate(ctx, DefaultGatePolicy)
	require.NoError(t, err)

	decision, err := gate.Evaluate(ctx, GateInput{
		Action:     "mass_invite",
		DailyLimit: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, "block", decision)
}

func TestGateRejectsInvalidPolicy(t *testing.T) {
	_, err := NewGate(context.Background(), "package broken\n!!!")
	assert.Error(t, err)
}

func TestGateCustomPolicy(t *testing.T) {
	ctx := context.Background()
	const policy = `
package outreach_policy

import rego.v1

default decision := "allow"

decision := "block" if {
	input.action == "follow_up"
}
`
	gate, err := NewGate(ctx, policy)
	require.NoError(t, err)

	decision, err := gate.Evaluate(ctx, GateInput{Action: "follow_up"})
	require.NoError(t, err)
	assert.Equal(t, "block", decision)

	decision, err = gate.Evaluate(ctx, GateInput{Action: "observe"})
	require.NoError(t, err)
	assert.Equal(t, "allow", decision)
}
