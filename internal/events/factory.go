package events

import (
	"fmt"
	"strings"

	"serviceloader/internal/config"
	"serviceloader/internal/logger"
)

// NewSink creates a Sink based on the configuration.
func NewSink(cfg config.EventsConfig, socks config.SOCKSConfig) (Sink, error) {
	log := logger.WithComponent("events-factory")

	sinkType := strings.ToLower(cfg.SinkType)
	if sinkType == "" {
		sinkType = "none"
	}

	log.Info().
		Str("sink_type", sinkType).
		Msg("Creating event sink")

	switch sinkType {
	case "none":
		return NopSink{}, nil
	case "file":
		return NewFileSink(cfg.File)
	case "kafka":
		return NewKafkaSink(cfg.Kafka, socks)
	case "sns":
		return NewSNSSink(cfg.SNS)
	default:
		return nil, fmt.Errorf("unknown event sink type: %s (supported: none, file, kafka, sns)", sinkType)
	}
}
