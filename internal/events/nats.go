package events

import (
	"log/slog"

	"github.com/mtzanidakis/quorum/internal/natsbus"
)

// NATSSink publishes events to the run event topic on the embedded bus.
// Publish failures are logged and dropped: the sink never fails the pipeline.
type NATSSink struct {
	client *natsbus.Client
}

func NewNATSSink(client *natsbus.Client) *NATSSink {
	return &NATSSink{client: client}
}

func (s *NATSSink) Emit(e Event) {
	if s.client == nil {
		return
	}
	topic := natsbus.TopicRunEvents(e.RunID)
	if e.Type == TypeChunk {
		topic = natsbus.TopicRunChunks(e.RunID)
	}
	if err := s.client.PublishJSON(topic, e); err != nil {
		slog.Debug("event publish failed", "type", e.Type, "run", e.RunID, "error", err)
	}
}
