package groundtruth

import "fmt"

// MalformedSourceError reports a point source that lacks a required field or
// whose identifiers are not unique.
type MalformedSourceError struct {
	Path   string
	Reason string
}

func (e *MalformedSourceError) Error() string {
	return fmt.Sprintf("malformed ground truth %s: %s", e.Path, e.Reason)
}
