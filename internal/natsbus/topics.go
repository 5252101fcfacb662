package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicEventsSwarm(runID string) string {
	return fmt.Sprintf("events.swarm.%s", runID)
}

func TopicEventsCycle(runID string) string {
	return fmt.Sprintf("events.cycle.%s", runID)
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsSwarmAll = "events.swarm.*"
	TopicEventsCycleAll = "events.cycle.*"

	TopicEventsFeedback = "events.feedback.decision"
	TopicEventsSchedule = "events.schedule.triggered"

	TopicEventsSecretCreated = "events.secret.created"
	TopicEventsSecretUpdated = "events.secret.updated"
	TopicEventsSecretDeleted = "events.secret.deleted"

	TopicControlRunTrigger      = "control.run.trigger"
	TopicControlRunStatus       = "control.run.status"
	TopicControlFeedbackHistory = "control.feedback.history"
	TopicControlScheduleList    = "control.schedule.list"
	TopicControlSchedulePause   = "control.schedule.pause"
	TopicControlScheduleResume  = "control.schedule.resume"
)
