package sqlite

import (
	"context"
	"fmt"

	"github.com/hivemark/hivesync"
	syncErrors "github.com/hivemark/hivesync/errors"
)

// observer is one live query subscription.
type observer struct {
	table string
	pred  func(hivesync.Record) bool
	ch    chan []hivesync.Record
}

// Observe returns a live sequence of result snapshots for a query. The
// current snapshot is emitted immediately, then a fresh one after every
// committed change touching the table. Slow consumers see the latest
// snapshot only; intermediate ones are dropped.
func (s *Store) Observe(table string, pred func(hivesync.Record) bool) (<-chan []hivesync.Record, func(), error) {
	if !s.schema.HasTable(table) {
		return nil, nil, syncErrors.NewValidationError(syncErrors.OpWrite,
			fmt.Errorf("unknown table %q", table))
	}

	obs := &observer{
		table: table,
		pred:  pred,
		ch:    make(chan []hivesync.Record, 1),
	}

	s.obsMu.Lock()
	if err := s.checkOpen(); err != nil {
		s.obsMu.Unlock()
		return nil, nil, err
	}
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = obs
	// Initial snapshot so subscribers do not wait for the first write.
	// Emitted under obsMu: a concurrent Close must not close the channel
	// between registration and the first send.
	s.emit(obs)
	s.obsMu.Unlock()

	cancel := func() {
		s.obsMu.Lock()
		if _, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(obs.ch)
		}
		s.obsMu.Unlock()
	}
	return obs.ch, cancel, nil
}

// notify re-emits snapshots to every observer covering a touched table.
// Called after a transaction commits, never during one.
func (s *Store) notify(touched map[string]struct{}) {
	if len(touched) == 0 {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for _, obs := range s.observers {
		if _, ok := touched[obs.table]; ok {
			s.emit(obs)
		}
	}
}

// emit computes a snapshot and delivers it latest-wins.
func (s *Store) emit(obs *observer) {
	snapshot, err := s.Query(context.Background(), obs.table, obs.pred)
	if err != nil {
		s.logger.Error("observer snapshot failed", "table", obs.table, "error", err)
		return
	}
	if snapshot == nil {
		snapshot = []hivesync.Record{}
	}
	for {
		select {
		case obs.ch <- snapshot:
			return
		default:
			// Channel full: drop the stale snapshot and retry.
			select {
			case <-obs.ch:
			default:
			}
		}
	}
}

func (s *Store) closeObservers() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for id, obs := range s.observers {
		delete(s.observers, id)
		close(obs.ch)
	}
}
