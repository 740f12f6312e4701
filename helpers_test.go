package hivesync_test

import (
	"context"
	stdSync "sync"

	"github.com/hivemark/hivesync"
	"github.com/hivemark/hivesync/cursor"
)

// fakeTransport scripts pull responses and records every call.
type fakeTransport struct {
	mu            stdSync.Mutex
	pullResponses []*hivesync.PullResponse
	pullErr       error
	pushErr       error
	pulls         []cursor.Timestamp
	pushes        []pushCall
	clock         int64
}

type pushCall struct {
	changes      hivesync.ChangeSet
	lastPulledAt cursor.Timestamp
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{clock: 1_700_000_000_000}
}

func (f *fakeTransport) Pull(ctx context.Context, since cursor.Timestamp) (*hivesync.PullResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, since)
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if len(f.pullResponses) > 0 {
		resp := f.pullResponses[0]
		f.pullResponses = f.pullResponses[1:]
		return resp, nil
	}
	f.clock += 1000
	return &hivesync.PullResponse{
		Changes:   hivesync.ChangeSet{},
		Timestamp: cursor.Timestamp{Millis: f.clock},
	}, nil
}

func (f *fakeTransport) Push(ctx context.Context, changes hivesync.ChangeSet, lastPulledAt cursor.Timestamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, pushCall{changes: changes, lastPulledAt: lastPulledAt})
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) setPullErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullErr = err
}

func (f *fakeTransport) setPushErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushErr = err
}

func (f *fakeTransport) queuePull(resp *hivesync.PullResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullResponses = append(f.pullResponses, resp)
}

func (f *fakeTransport) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pulls)
}

func (f *fakeTransport) pushedCalls() []pushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pushCall, len(f.pushes))
	copy(out, f.pushes)
	return out
}

// switchableConnectivity is a thread-safe online flag.
type switchableConnectivity struct {
	mu     stdSync.Mutex
	online bool
}

func (s *switchableConnectivity) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *switchableConnectivity) set(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}
