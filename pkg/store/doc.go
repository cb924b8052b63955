// Package store provides the reactive persisted state that parley
// conversations are built on.
//
// # Overview
//
// Three pieces sit on top of a namespaced key/value Backend:
//
// Map is a key/value table for one (namespace, entity) pair. Every Set that
// changes a value synchronously notifies the hooks registered for that key
// with (newValue, oldValue). Writing an equal value is a no-op.
//
// Collection is an ordered, deduplicated, persisted sequence of record ids.
// Pushing a new id persists the sequence and notifies whole-collection hooks
// with copies of the sequence before and after. Ids are turned into domain
// items by a caller-supplied Materializer, whose results are cached until the
// collection is emptied.
//
// Hooks is the shared observer list used by both. Every registration returns
// a Handle that can be unregistered, and a panicking hook never prevents the
// hooks after it from running.
//
// # Backends
//
// RedisBackend stores each entity as a Redis hash and publishes a change event
// for every write. SQLiteBackend and PostgresBackend keep one row per entry.
// MemoryBackend keeps everything in process and is what most tests use.
// Backends that implement Watcher let a Map or Collection follow writes made by
// other clients through Follow.
//
// # Redis Schema
//
// Entities: parley:{instance_name}:{namespace}:{entity_id} (hash, field = key)
//
// Change events: parley:{instance_name}:change_events (Pub/Sub, JSON ChangeEvent)
//
// # Usage Example
//
//	backend := store.NewMemoryBackend()
//
//	props := store.NewMap(backend, "chatWindow", "alice@example.com")
//	props.RegisterHook("minimized", func(newValue, oldValue any) {
//		fmt.Println("minimized:", newValue, "was:", oldValue)
//	})
//	_ = props.Set(ctx, "minimized", true)
//
//	history := store.NewCollection[*Message](backend, "history", "alice@example.com")
//	history.SetMaterializer(loadMessage)
//	if err := history.Init(ctx); err != nil {
//		log.Fatal(err)
//	}
//	_ = history.Push(ctx, msg)
//
// # Concurrency
//
// Mutations on one Map or Collection are serialized and run their hooks before
// returning. Hooks may read from the instance that notified them but must not
// mutate it.
package store
