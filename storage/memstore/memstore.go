// Package memstore is an in-process storage.Storage backed by maps and
// mutexes, used by tests and the demo host harness. It exists for the
// same reason mlsgit's FilterCache kept a plain os.ReadFile/WriteFile
// layer alongside its TOML record files: a dependency-free baseline the
// pgstore/redis-backed implementations can be checked against.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/suhailsaqan/mdk/storage"
)

// Store is an in-process Storage implementation. Zero value is not
// usable; construct with New.
type Store struct {
	mu sync.Mutex

	groups            map[[32]byte]storage.Group
	messages          map[[32]byte]storage.Message
	processedMessages map[[32]byte]storage.ProcessedMessage
	processedWelcomes map[[32]byte]storage.ProcessedWelcome
	welcomes          map[[32]byte]storage.Welcome
	exporterSecrets   map[[32]byte]map[uint64]storage.ExporterSecret
	snapshots         map[[32]byte]map[uint64]storage.EpochSnapshot
	keyPackageRefs    map[[32]byte]storage.KeyPackageHashRef

	// groupLocks serializes mutating operations per nostr_group_id, the
	// "distinct groups proceed in parallel, one group serializes"
	// scheduling model.
	groupLocks sync.Map // [32]byte -> *sync.Mutex
}

// New returns an empty in-process Store.
func New() *Store {
	return &Store{
		groups:            make(map[[32]byte]storage.Group),
		messages:          make(map[[32]byte]storage.Message),
		processedMessages: make(map[[32]byte]storage.ProcessedMessage),
		processedWelcomes: make(map[[32]byte]storage.ProcessedWelcome),
		welcomes:          make(map[[32]byte]storage.Welcome),
		exporterSecrets:   make(map[[32]byte]map[uint64]storage.ExporterSecret),
		snapshots:         make(map[[32]byte]map[uint64]storage.EpochSnapshot),
		keyPackageRefs:    make(map[[32]byte]storage.KeyPackageHashRef),
	}
}

// GroupLock returns the per-group mutex, creating it on first use.
// Callers that need to serialize a multi-step operation (e.g. the
// commit processor's snapshot-then-merge sequence) hold this for the
// duration of the step.
func (s *Store) GroupLock(nostrGroupID [32]byte) *sync.Mutex {
	v, _ := s.groupLocks.LoadOrStore(nostrGroupID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) SaveGroup(_ context.Context, g storage.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.NostrGroupID] = g
	return nil
}

func (s *Store) GetGroup(_ context.Context, nostrGroupID [32]byte) (storage.Group, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[nostrGroupID]
	return g, ok, nil
}

func (s *Store) ListGroups(_ context.Context) ([]storage.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out, nil
}

func (s *Store) SaveMessage(_ context.Context, m storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.EventID] = m
	return nil
}

func (s *Store) GetMessage(_ context.Context, eventID [32]byte) (storage.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[eventID]
	return m, ok, nil
}

func (s *Store) MessagesForGroup(_ context.Context, nostrGroupID [32]byte) ([]storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Message
	for _, m := range s.messages {
		if m.NostrGroupID == nostrGroupID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return string(out[i].EventID[:]) < string(out[j].EventID[:])
	})
	return out, nil
}

func (s *Store) MessagesAfterEpoch(_ context.Context, nostrGroupID [32]byte, epoch uint64) ([]storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Message
	for _, m := range s.messages {
		if m.NostrGroupID != nostrGroupID || m.Epoch == nil {
			continue
		}
		if *m.Epoch > epoch {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) MessageByOriginalHash(_ context.Context, nostrGroupID [32]byte, originalHash [32]byte) (storage.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.NostrGroupID != nostrGroupID {
			continue
		}
		for _, tag := range m.Tags {
			if len(tag) >= 2 && tag[0] == "x" && tag[1] == fmt.Sprintf("%x", originalHash) {
				return m, true, nil
			}
		}
	}
	return storage.Message{}, false, nil
}

func (s *Store) SaveProcessedMessage(_ context.Context, p storage.ProcessedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processedMessages[p.WrapperEventID] = p
	return nil
}

func (s *Store) GetProcessedMessage(_ context.Context, wrapperEventID [32]byte) (storage.ProcessedMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processedMessages[wrapperEventID]
	return p, ok, nil
}

func (s *Store) SaveProcessedWelcome(_ context.Context, p storage.ProcessedWelcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processedWelcomes[p.WrapperEventID] = p
	return nil
}

func (s *Store) GetProcessedWelcome(_ context.Context, wrapperEventID [32]byte) (storage.ProcessedWelcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processedWelcomes[wrapperEventID]
	return p, ok, nil
}

func (s *Store) SaveWelcome(_ context.Context, w storage.Welcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.welcomes[w.WrapperEventID] = w
	return nil
}

func (s *Store) GetWelcome(_ context.Context, wrapperEventID [32]byte) (storage.Welcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.welcomes[wrapperEventID]
	return w, ok, nil
}

func (s *Store) SaveExporterSecret(_ context.Context, e storage.ExporterSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEpoch, ok := s.exporterSecrets[e.NostrGroupID]
	if !ok {
		byEpoch = make(map[uint64]storage.ExporterSecret)
		s.exporterSecrets[e.NostrGroupID] = byEpoch
	}
	byEpoch[e.Epoch] = e
	return nil
}

func (s *Store) GetExporterSecret(_ context.Context, nostrGroupID [32]byte, epoch uint64) (storage.ExporterSecret, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEpoch, ok := s.exporterSecrets[nostrGroupID]
	if !ok {
		return storage.ExporterSecret{}, false, nil
	}
	e, ok := byEpoch[epoch]
	return e, ok, nil
}

func (s *Store) PruneExporterSecrets(_ context.Context, nostrGroupID [32]byte, retention int) error {
	if retention <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byEpoch, ok := s.exporterSecrets[nostrGroupID]
	if !ok || len(byEpoch) <= retention {
		return nil
	}
	epochs := make([]uint64, 0, len(byEpoch))
	for e := range byEpoch {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	toRemove := len(epochs) - retention
	for _, e := range epochs[:toRemove] {
		delete(byEpoch, e)
	}
	return nil
}

func (s *Store) SaveSnapshot(_ context.Context, snap storage.EpochSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEpoch, ok := s.snapshots[snap.NostrGroupID]
	if !ok {
		byEpoch = make(map[uint64]storage.EpochSnapshot)
		s.snapshots[snap.NostrGroupID] = byEpoch
	}
	byEpoch[snap.Epoch] = snap
	return nil
}

func (s *Store) GetSnapshot(_ context.Context, nostrGroupID [32]byte, epoch uint64) (storage.EpochSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEpoch, ok := s.snapshots[nostrGroupID]
	if !ok {
		return storage.EpochSnapshot{}, false, nil
	}
	snap, ok := byEpoch[epoch]
	return snap, ok, nil
}

func (s *Store) DeleteSnapshotsAfter(_ context.Context, nostrGroupID [32]byte, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEpoch, ok := s.snapshots[nostrGroupID]
	if !ok {
		return nil
	}
	for e := range byEpoch {
		if e > epoch {
			delete(byEpoch, e)
		}
	}
	return nil
}

func (s *Store) PruneSnapshots(_ context.Context, nostrGroupID [32]byte, retention int) error {
	if retention <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byEpoch, ok := s.snapshots[nostrGroupID]
	if !ok || len(byEpoch) <= retention {
		return nil
	}
	epochs := make([]uint64, 0, len(byEpoch))
	for e := range byEpoch {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	toRemove := len(epochs) - retention
	for _, e := range epochs[:toRemove] {
		delete(byEpoch, e)
	}
	return nil
}

func (s *Store) CountSnapshots(_ context.Context, nostrGroupID [32]byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots[nostrGroupID]), nil
}

func (s *Store) SaveKeyPackageHashRef(_ context.Context, ref storage.KeyPackageHashRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyPackageRefs[ref.EventID] = ref
	return nil
}

func (s *Store) GetKeyPackageHashRef(_ context.Context, eventID [32]byte) (storage.KeyPackageHashRef, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.keyPackageRefs[eventID]
	return ref, ok, nil
}

func (s *Store) DeleteKeyPackageHashRef(_ context.Context, eventID [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keyPackageRefs, eventID)
	return nil
}

var _ storage.Storage = (*Store)(nil)
