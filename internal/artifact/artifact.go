// Package artifact resolves, validates and acquires the on-disk files of a
// named model. The local layout mirrors the upstream repository: one
// directory per repo id containing the structure descriptor, the weight blob
// and the model config document.
package artifact

// Status is the validation state of an artifact.
type Status string

const (
	StatusUnverified Status = "unverified"
	StatusValid      Status = "valid"
	StatusCorrupt    Status = "corrupt"
	StatusMissing    Status = "missing"
)

// RequiredFiles is the full file set an artifact must carry to be Valid.
// Partial presence is treated as Missing/Corrupt, never as partially usable.
var RequiredFiles = []string{
	"openvino_model.xml",
	"openvino_model.bin",
	"config.json",
}

// Artifact is the resolved on-disk (or remote-backed) representation of a
// model. Once Valid it is never mutated; a Corrupt artifact is discarded and
// re-resolved.
type Artifact struct {
	RepoID string
	// Path is the local directory holding RequiredFiles, or the bare repo id
	// when Remote is set.
	Path   string
	Files  []string
	Status Status
	// Remote marks a degraded artifact served straight from the repository
	// because local acquisition exhausted its retries.
	Remote bool
}

// unavailableError signals that acquisition exhausted retries and no remote
// fallback is configured. Maps to 503 at the HTTP layer.
type unavailableError struct{ repoID string }

func (e unavailableError) Error() string { return "model artifact unavailable: " + e.repoID }

// ErrUnavailable constructs an unavailableError for repoID.
func ErrUnavailable(repoID string) error { return unavailableError{repoID: repoID} }

// IsUnavailable reports whether err indicates an unobtainable artifact.
func IsUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}
