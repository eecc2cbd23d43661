package transfer

import "time"

// Direction is the side of a transfer an engine call plays.
type Direction string

const (
	DirSend    Direction = "send"
	DirReceive Direction = "receive"
)

// Observer receives engine events, e.g. for metrics. Implementations must be
// safe for concurrent use.
type Observer interface {
	BytesMoved(dir Direction, n int)
	ChunkRetried(dir Direction)
	TransferFinished(dir Direction, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) BytesMoved(Direction, int)                        {}
func (nopObserver) ChunkRetried(Direction)                           {}
func (nopObserver) TransferFinished(Direction, error, time.Duration) {}
