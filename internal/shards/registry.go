// Package shards keeps the shard membership the node schedules against
package shards

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"tasknode/internal/models"
)

// Listener is notified when a shard changes availability
type Listener interface {
	ShardOnline(shard models.ShardID, network models.Network) error
	ShardOffline(shard models.ShardID, network models.Network) error
}

// Shard is one signing group
type Shard struct {
	ID      models.ShardID
	Network models.Network
	Members []models.AccountID
	// PublicKey is the compressed secp256k1 group key
	PublicKey []byte
	Online    bool
}

// Registry is an in-memory shard directory
type Registry struct {
	mu       sync.RWMutex
	shards   map[models.ShardID]*Shard
	listener Listener
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		shards: make(map[models.ShardID]*Shard),
		logger: logger.Named("shards"),
	}
}

// SetListener installs the availability listener
func (r *Registry) SetListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

// Add registers a shard in the offline state
func (r *Registry) Add(s Shard) error {
	if len(s.Members) == 0 {
		return fmt.Errorf("shard %d has no members", s.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.shards[s.ID]; exists {
		return fmt.Errorf("shard %d already registered", s.ID)
	}
	s.Members = slices.Clone(s.Members)
	s.PublicKey = slices.Clone(s.PublicKey)
	s.Online = false
	r.shards[s.ID] = &s

	r.logger.Info("Shard added",
		zap.Uint64("shard_id", uint64(s.ID)),
		zap.Uint16("network", uint16(s.Network)),
		zap.Int("members", len(s.Members)))
	return nil
}

// SetOnline marks a shard online and notifies the listener. The change is
// undone if the listener fails.
func (r *Registry) SetOnline(id models.ShardID) error {
	return r.setOnline(id, true)
}

// SetOffline marks a shard offline and notifies the listener
func (r *Registry) SetOffline(id models.ShardID) error {
	return r.setOnline(id, false)
}

func (r *Registry) setOnline(id models.ShardID, online bool) error {
	r.mu.Lock()
	s, ok := r.shards[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown shard %d", id)
	}
	if s.Online == online {
		r.mu.Unlock()
		return nil
	}
	s.Online = online
	network := s.Network
	listener := r.listener
	r.mu.Unlock()

	if listener == nil {
		return nil
	}

	var err error
	if online {
		err = listener.ShardOnline(id, network)
	} else {
		err = listener.ShardOffline(id, network)
	}
	if err != nil {
		r.mu.Lock()
		s.Online = !online
		r.mu.Unlock()
		return fmt.Errorf("failed to notify shard %d state change: %w", id, err)
	}
	return nil
}

// Get returns a copy of the shard
func (r *Registry) Get(id models.ShardID) (Shard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shards[id]
	if !ok {
		return Shard{}, false
	}
	return *s, true
}

// Shards returns every shard ordered by id
func (r *Registry) Shards() []Shard {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Shard, 0, len(r.shards))
	for _, s := range r.shards {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b Shard) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// ShardsOf returns the ids of the shards acct is a member of
func (r *Registry) ShardsOf(acct models.AccountID) []models.ShardID {
	var ids []models.ShardID
	for _, s := range r.Shards() {
		if slices.Contains(s.Members, acct) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func (r *Registry) MatchingShardOnline(network models.Network, size uint16) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.shards {
		if s.Online && s.Network == network && len(s.Members) == int(size) {
			return true
		}
	}
	return false
}

func (r *Registry) ShardMembers(id models.ShardID) []models.AccountID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.shards[id]; ok {
		return slices.Clone(s.Members)
	}
	return nil
}

func (r *Registry) ShardNetwork(id models.ShardID) (models.Network, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.shards[id]; ok {
		return s.Network, true
	}
	return 0, false
}

func (r *Registry) TSSPublicKey(id models.ShardID) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.shards[id]; ok && len(s.PublicKey) > 0 {
		return slices.Clone(s.PublicKey), true
	}
	return nil, false
}

func (r *Registry) IsShardOnline(id models.ShardID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shards[id]
	return ok && s.Online
}
