package events

// TopicFor maps an event type to the bus topic it travels on.
func TopicFor(eventType EventType) string {
	if eventType == EventTriggeredType || eventType == WorkflowRunRequestedType {
		return TriggerTopic
	}

	return ExecutionTopic
}
