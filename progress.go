package spanindex

// ProgressEvent is a progress update during a build.
type ProgressEvent struct {
	// Stage identifies the current phase of the build.
	Stage ProgressStage

	// FileID is the file being built.
	FileID string

	// BytesDone is the number of decompressed bytes scanned so far.
	BytesDone int64

	// FilesDone is the number of files finished, successfully or not.
	FilesDone int

	// FilesTotal is the number of files in the build.
	FilesTotal int
}

// ProgressStage identifies the current phase of a build.
type ProgressStage uint8

// Progress stages.
const (
	// StageScanning indicates a file is being decompressed and scanned.
	StageScanning ProgressStage = iota

	// StageVerifying indicates spans are being read back through the new table.
	StageVerifying

	// StageDone indicates a file build finished.
	StageDone
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageScanning:
		return "scanning"
	case StageVerifying:
		return "verifying"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)

// progressStep is the number of scanned bytes between scanning events.
const progressStep = 64 << 20

// reportProgress sends a progress event if a callback is configured.
func (x *Index) reportProgress(ev ProgressEvent) {
	if x.progress == nil {
		return
	}
	x.progress(ev)
}
