package taskname

const (
	// Linkage tasks
	LinkageRun   = "booking:linkage:run"
	LinkageSweep = "booking:linkage:sweep"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
