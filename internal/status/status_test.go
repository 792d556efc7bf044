package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *Snapshot {
	name1, name2 := "Ada L", "Grace H"
	return &Snapshot{
		ProjectID: "proj-1",
		Agents: []AgentStatus{
			{WorkspaceID: "ws-1", Alias: "ada", HumanName: &name1, Status: "active"},
			{WorkspaceID: "ws-2", Alias: "grace", HumanName: &name2, Status: "offline"},
		},
		Claims: []ClaimStatus{
			{BeadID: "bh-1", WorkspaceID: "ws-1", Alias: "ada", HumanName: &name1, ClaimantCount: 2},
			{BeadID: "bh-1", WorkspaceID: "ws-2", Alias: "grace", HumanName: &name2, ClaimantCount: 2},
			{BeadID: "bh-2", WorkspaceID: "ws-1", Alias: "ada", HumanName: &name1, ClaimantCount: 1},
		},
		Conflicts: []ConflictStatus{
			{BeadID: "bh-1", Claimants: []ClaimStatus{
				{BeadID: "bh-1", Alias: "ada", HumanName: &name1, ClaimantCount: 2},
			}},
		},
		EscalationsPending: 3,
	}
}

func TestConflictsFrom(t *testing.T) {
	s := sampleSnapshot()
	conflicts := conflictsFrom(s.Claims)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "bh-1", conflicts[0].BeadID)
	assert.Len(t, conflicts[0].Claimants, 2)
}

func TestConflictsFrom_NoContention(t *testing.T) {
	claims := []ClaimStatus{
		{BeadID: "bh-1", ClaimantCount: 1},
		{BeadID: "bh-2", ClaimantCount: 1},
	}
	assert.Empty(t, conflictsFrom(claims))
}

func TestRedact_PublicReader(t *testing.T) {
	s := sampleSnapshot()
	out := redact(s, true)

	assert.Equal(t, 0, out.EscalationsPending)
	for _, agent := range out.Agents {
		assert.Nil(t, agent.HumanName)
		assert.Nil(t, agent.Role)
	}
	for _, claim := range out.Claims {
		assert.Nil(t, claim.HumanName)
	}
	for _, conflict := range out.Conflicts {
		for _, claimant := range conflict.Claimants {
			assert.Nil(t, claimant.HumanName)
		}
	}

	// The shared snapshot must survive redaction untouched.
	assert.Equal(t, 3, s.EscalationsPending)
	require.NotNil(t, s.Agents[0].HumanName)
	assert.Equal(t, "Ada L", *s.Agents[0].HumanName)
	require.NotNil(t, s.Conflicts[0].Claimants[0].HumanName)
}

func TestRedact_AuthenticatedPassThrough(t *testing.T) {
	s := sampleSnapshot()
	assert.Same(t, s, redact(s, false))
}
