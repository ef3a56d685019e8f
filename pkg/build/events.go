package build

// StageStatus is where a stage stands in the events and in the report.
type StageStatus string

const (
	StageStarted   StageStatus = "started"
	StageSucceeded StageStatus = "succeeded"
	StageWarning   StageStatus = "warning"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Event is a coarse progress notification, one when a stage starts and one when it ends.
// Index is 1-based.
type Event struct {
	Stage   string
	Index   int
	Total   int
	Status  StageStatus
	Message string
}

// Observer receives events synchronously, on the goroutine running the build.
type Observer func(Event)
