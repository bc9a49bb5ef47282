package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicRunEvents(runID string) string {
	return fmt.Sprintf("run.%s.events", runID)
}

func TopicRunChunks(runID string) string {
	return fmt.Sprintf("run.%s.chunks", runID)
}

func TopicSchedulerEvents() string {
	return "scheduler.events"
}

const (
	TopicRunsAll      = "run.*.events"
	TopicRunChunksAll = "run.*.chunks"
)
