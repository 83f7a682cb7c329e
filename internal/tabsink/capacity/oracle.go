package capacity

const (
	// DefaultPerChannelCapacity is the number of simultaneous requests a single sink connection is expected to
	// serve.
	DefaultPerChannelCapacity = 2048
	// DefaultFloor is the smallest ceiling ever reported, regardless of how many channels are connected.
	DefaultFloor = 2048
)

// PoolState is a point-in-time view of a sink's connection pool.
type PoolState struct {
	ConnectedChannels int
}

// PoolStater is implemented by sinks that can report the state of their connection pool.
// PoolState must be cheap and must not block.
type PoolStater interface {
	PoolState() PoolState
}

// Oracle derives the maximum number of writes that may be outstanding at once.
type Oracle interface {
	Ceiling() int
}

// PoolOracle computes max(connectedChannels * perChannel, floor) from a live pool on every call.
type PoolOracle struct {
	pool       PoolStater
	perChannel int
	floor      int
}

// NewPoolOracle returns an oracle backed by pool. perChannel and floor values below one are replaced by one.
func NewPoolOracle(pool PoolStater, perChannel int, floor int) *PoolOracle {
	if perChannel < 1 {
		perChannel = 1
	}
	if floor < 1 {
		floor = 1
	}
	return &PoolOracle{
		pool:       pool,
		perChannel: perChannel,
		floor:      floor,
	}
}

func (o *PoolOracle) Ceiling() int {
	ceiling := o.pool.PoolState().ConnectedChannels * o.perChannel
	if ceiling < o.floor {
		return o.floor
	}
	return ceiling
}

// Fixed is an Oracle which always reports the same ceiling.
type Fixed int

func (f Fixed) Ceiling() int {
	if f < 1 {
		return 1
	}
	return int(f)
}
