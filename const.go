package match

const (
	// EngineVersion is the current version of the matching engine
	EngineVersion = "v1.0.0"

	// defaultQueueSize is the inbound command buffer of one order book actor.
	defaultQueueSize = 32768
)
