package pipeline

// Stage names reported in Status.
const (
	StageWaiting    = "waiting"
	StageCollecting = "collecting"
	StagePublishing = "publishing"
	StageIndexing   = "indexing"
	StageDone       = "done"
	StageError      = "error"
)

// Status represents the progress of a build.
type Status struct {
	Stage        string
	Total        int
	Written      int
	Skipped      int // unchanged sources
	Invalid      int // sources skipped for a malformed header (lenient mode)
	Errors       int
	FailuresPath string
}

// PublishError wraps a failure to publish one source so callers can tell
// it apart from collection errors.
type PublishError struct {
	Path string
	Err  error
}

func (e *PublishError) Error() string { return "publish " + e.Path + ": " + e.Err.Error() }
func (e *PublishError) Unwrap() error { return e.Err }
