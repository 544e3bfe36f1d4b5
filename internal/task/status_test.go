package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusClaimed, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}
	legal := map[[2]Status]bool{
		{StatusPending, StatusClaimed}:   true,
		{StatusPending, StatusRunning}:   true,
		{StatusPending, StatusCompleted}: true,
		{StatusPending, StatusFailed}:    true,
		{StatusPending, StatusCancelled}: true,
		{StatusClaimed, StatusRunning}:   true,
		{StatusClaimed, StatusCompleted}: true,
		{StatusClaimed, StatusFailed}:    true,
		{StatusClaimed, StatusCancelled}: true,
		{StatusRunning, StatusCompleted}: true,
		{StatusRunning, StatusFailed}:    true,
		{StatusRunning, StatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, Status("done").Valid())

	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusFailed.Terminal())

	assert.Empty(t, SourcesFor(StatusPending))
	sources := SourcesFor(StatusClaimed)
	sources[0] = StatusFailed
	assert.Equal(t, []Status{StatusPending}, SourcesFor(StatusClaimed))
}

func TestAgentStatusFor(t *testing.T) {
	assert.Equal(t, "pending", string(AgentStatusFor(StatusClaimed)))
	assert.Equal(t, "running", string(AgentStatusFor(StatusRunning)))
	assert.Equal(t, "failed", string(AgentStatusFor(StatusFailed)))
	assert.Equal(t, "", string(AgentStatusFor(StatusCancelled)))
}
