package httptransport

import (
	"github.com/hivemark/hivesync"
	"github.com/hivemark/hivesync/cursor"
)

// pullRequest is the body of POST /sync/pull. A null last_pulled_at
// asks for the full dataset.
type pullRequest struct {
	LastPulledAt *int64 `json:"last_pulled_at"`
}

// pullResponse is the body the server answers a pull with: every
// change visible since last_pulled_at, plus the server clock the next
// pull should resume from.
type pullResponse struct {
	Changes   hivesync.ChangeSet `json:"changes"`
	Timestamp cursor.Timestamp   `json:"timestamp"`
}

// pushRequest is the body of POST /sync/push. last_pulled_at is the
// timestamp of this cycle's pull, letting the server arbitrate pushes
// made against stale knowledge.
type pushRequest struct {
	Changes      hivesync.ChangeSet `json:"changes"`
	LastPulledAt int64              `json:"last_pulled_at"`
}

func newPullRequest(since cursor.Timestamp) pullRequest {
	if since.IsZero() {
		return pullRequest{}
	}
	millis := since.Millis
	return pullRequest{LastPulledAt: &millis}
}
