package queue

import "github.com/AdguardTeam/golibs/errors"

// errFSWatcherClosed is returned by Run when the filesystem-watcher event
// channel closes. Per spec.md §7, this is fatal: "the process cannot
// maintain correctness without event delivery".
const errFSWatcherClosed errors.Error = "filesystem watcher closed"

// errQueueClosed reports that a packet-queue handle's channel closed
// unexpectedly.
type errQueueClosed string

// Error implements the error interface.
func (e errQueueClosed) Error() string {
	return "packet queue closed: " + string(e)
}
