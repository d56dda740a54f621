package orchestration

import "github.com/sentinelops/orchestrator/resilience"

// TopicDependency maps one of the engine's outbound topics to the named
// circuit-breaker dependency that publishing to it exercises, for wiring a
// bus.DependencyRouting in front of the production bus. Topics it doesn't
// recognize (inbound subscriptions, the dead-letter topic) route to the
// generic resilience.DependencyBus breaker.
func TopicDependency(topic string) string {
	switch topic {
	case TopicAnalyzeIncident:
		return resilience.DependencyAnalysisAgent
	case TopicExecuteRemediation:
		return resilience.DependencyRemediationAgent
	case TopicSendNotification:
		return resilience.DependencyCommunicationChannel
	default:
		return resilience.DependencyBus
	}
}
