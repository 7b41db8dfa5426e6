// Package publisher exports created records to external systems such as
// NATS JetStream and Kafka.
//
// # Architecture
//
// Each configured sink gets a Worker that holds its own hub listener on
// record.TopicCreated. A worker filters, transforms and publishes every
// record it sees, retrying failed publishes with exponential backoff:
//
//	hub --> Worker (Filter -> Transformer -> Sink) --> NATS / Kafka
//
// The Registry builds workers from cfg.SinkConfiguration entries and owns
// their lifecycle. Sink types and formats are registered by the sink and
// transformer packages:
//
//	import (
//		_ "github.com/maxpert/livefeed/publisher/sink"
//		_ "github.com/maxpert/livefeed/publisher/transformer"
//	)
//
//	registry, err := publisher.NewRegistry(publisher.RegistryConfig{
//		Hub:         ex.Hub(),
//		NodeID:      cfg.Config.NodeID,
//		SinkConfigs: cfg.Config.Sinks,
//	})
//	if err != nil {
//		return err
//	}
//	registry.Start()
//	defer registry.Stop()
//
// # Delivery
//
// Export is at-most-once. A worker that cannot keep up is dropped by the
// hub like any other slow listener; it re-subscribes and logs the range of
// record ids it missed. Every message is keyed by the record id so
// JetStream can de-duplicate retried publishes and Kafka keeps a node's
// records on one partition.
//
// # Messages
//
// Sinks receive a Message: the encoded event plus the content type, node id
// and record id, which both sinks attach as headers (HeaderContentType,
// HeaderNodeID, HeaderRecordID). The sink topic is TopicPrefix + "." + hub
// topic unless a fixed topic is configured for the sink.
//
// # Filters
//
// GlobFilter selects records by content:
//
//	filter, err := NewGlobFilter([]string{"order:*", "alert:*"})
//
//	if filter.Match("order:42") {
//		// Export record
//	}
package publisher
