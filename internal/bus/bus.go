// Package bus provides the in-process event bus that connects the file
// watcher to the markdown store and the refresh hub.
package bus

import (
	"github.com/cskr/pubsub"
)

// Topic for file change events.
const TopicFileChanged = "file:changed"

const defaultQueueLength = 256

// ChangeEvent describes a single file system change to a served file.
type ChangeEvent struct {
	Path   string // absolute path of the changed file
	Remove bool   // true when the file was deleted or renamed away
}

// Bus is a thin typed wrapper around cskr/pubsub.
type Bus struct {
	ps *pubsub.PubSub
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{ps: pubsub.New(defaultQueueLength)}
}

// PublishChange publishes a file change event to all subscribers.
func (b *Bus) PublishChange(ev ChangeEvent) {
	b.ps.Pub(ev, TopicFileChanged)
}

// SubscribeChanges returns a channel that receives every ChangeEvent
// published after the call. The channel is closed by Unsubscribe or Shutdown.
func (b *Bus) SubscribeChanges() chan interface{} {
	return b.ps.Sub(TopicFileChanged)
}

// Unsubscribe removes a subscription channel obtained from SubscribeChanges.
func (b *Bus) Unsubscribe(ch chan interface{}) {
	b.ps.Unsub(ch, TopicFileChanged)
}

// Shutdown closes the bus and all subscription channels.
func (b *Bus) Shutdown() {
	b.ps.Shutdown()
}
