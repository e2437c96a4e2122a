package core

// Diagnostics is the orchestrator's queryable self-report, consumed by
// both the HTTP control surface and the terminal dashboard.
type Diagnostics struct {
	State               State `json:"state"`
	BackgroundTaskCount int   `json:"background_task_count"`
	AudioQueueOccupancy int   `json:"audio_queue_occupancy"`
	DBPoolFree          int   `json:"db_pool_free"`
}

// Diagnostics snapshots the orchestrator's current self-report.
func (o *Orchestrator) Diagnostics() Diagnostics {
	d := Diagnostics{State: o.State()}
	if o.Registry != nil {
		d.BackgroundTaskCount = o.Registry.Len()
	}
	if o.Turn != nil {
		d.AudioQueueOccupancy = o.Turn.AudioQueueOccupancy()
	}
	return d
}
