package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minutely/outreach/domain"
)

func TestTransitionRejectsIllegalMove(t *testing.T) {
	o := &Orchestrator{}
	c := &domain.Contact{ProfileID: "x", State: domain.ContactStateNew}

	err := o.transition(c, domain.ContactStateFollowUpSent)
	require.Error(t, err)
	assert.Equal(t, domain.ContactStateNew, c.State, "rejected move leaves the contact untouched")
}

func TestTransitionRejectsLeavingTerminal(t *testing.T) {
	o := &Orchestrator{}
	c := &domain.Contact{ProfileID: "x", State: domain.ContactStateReplied}

	err := o.transition(c, domain.ContactStateConnected)
	require.Error(t, err)
	assert.Equal(t, domain.ContactStateReplied, c.State)
}

func TestTransitionAppliesLegalMove(t *testing.T) {
	o := &Orchestrator{}
	c := &domain.Contact{ProfileID: "x", State: domain.ContactStateNew}

	require.NoError(t, o.transition(c, domain.ContactStateConnectionRequested))
	assert.Equal(t, domain.ContactStateConnectionRequested, c.State)

	require.NoError(t, o.transition(c, domain.ContactStateConnected))
	require.NoError(t, o.transition(c, domain.ContactStateFirstMessageSent))
	require.NoError(t, o.transition(c, domain.ContactStateReplied))
}
