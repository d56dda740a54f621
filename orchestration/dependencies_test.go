package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentinelops/orchestrator/resilience"
)

func TestTopicDependency_MapsOutboundTopics(t *testing.T) {
	assert.Equal(t, resilience.DependencyAnalysisAgent, TopicDependency(TopicAnalyzeIncident))
	assert.Equal(t, resilience.DependencyRemediationAgent, TopicDependency(TopicExecuteRemediation))
	assert.Equal(t, resilience.DependencyCommunicationChannel, TopicDependency(TopicSendNotification))
}

func TestTopicDependency_UnknownTopicFallsBackToBus(t *testing.T) {
	assert.Equal(t, resilience.DependencyBus, TopicDependency("new_incident"))
	assert.Equal(t, resilience.DependencyBus, TopicDependency(DeadLetterTopic))
}
