package store

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several parley deployments can share one Redis server.
//
// Key pattern: parley:{instance_name}:{namespace}:{entity_id}
// Channel pattern: parley:{instance_name}:change_events

// EntityKey returns the Redis hash key holding every entry of one entity.
// Pattern: parley:{instance_name}:{namespace}:{entity_id}
func EntityKey(instanceName, namespace, entityID string) string {
	return fmt.Sprintf("parley:%s:%s:%s", instanceName, namespace, entityID)
}

// ChangeEventsChannel returns the Pub/Sub channel name for change events.
// Pattern: parley:{instance_name}:change_events
func ChangeEventsChannel(instanceName string) string {
	return fmt.Sprintf("parley:%s:change_events", instanceName)
}

// PostgresChannel is the LISTEN/NOTIFY channel used by PostgresBackend.
const PostgresChannel = "parley_changes"

// sequenceKey is the entry key under which a Collection persists its ids.
const sequenceKey = "ids"
