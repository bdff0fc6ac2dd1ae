package realtime

// Source is a publish/subscribe backend emitting row-level change events.
//
// Channel prepares a channel for one key; no events flow until the returned
// Channel is activated with Subscribe. deliver must be called sequentially
// for a given channel, in the order events were received.
type Source interface {
	Channel(key Key, spec TableSpec, deliver func(ChangeEvent)) (Channel, error)
	RemoveChannel(ch Channel) error
}

// Channel is one live subscription to a table/filter combination.
type Channel interface {
	Subscribe() error
}
