package taskname

const (
	// Workload lifecycle events, consumed into the audit trail.
	WorkloadEnqueued  = "workload:enqueued"
	WorkloadClaimed   = "workload:claimed"
	WorkloadCompleted = "workload:completed"
	WorkloadFailed    = "workload:failed"
	WorkloadReclaimed = "workload:reclaimed"

	// Schedule events.
	ScheduleFired = "schedule:fired"
)
