package internal

const (
	HealthCheckEndPoint = "/health"
	SnapshotEndPoint    = "/snapshot"
	RestoreEndPoint     = "/restore"
	MetricsEndPoint     = "/metrics"
)
