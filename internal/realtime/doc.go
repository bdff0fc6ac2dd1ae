// Package realtime forwards row-level change events from a change-event
// Source to in-process listeners.
//
// A Manager keeps a registry of open channels keyed by subscription Key.
// The first Subscribe for a key opens and activates one channel through the
// Source; later subscribers for the same key attach to it. Every listener
// receives every event of its key, in source order. A Disposer detaches one
// listener, and the channel is removed once its last listener is gone.
//
//	mgr := realtime.NewManager(src, logger)
//	dispose := mgr.SubscribeToRequirements("P1", func(evt realtime.ChangeEvent) {
//	    refresh(evt.RecordID())
//	})
//	defer dispose()
//
// Stream exposes the same subscription as a Go channel.
//
// Failures never reach the caller. A manager without a Source, an invalid
// (kind, scope) pair, or a channel the Source refuses all produce a warning
// log and a no-op Disposer.
package realtime
