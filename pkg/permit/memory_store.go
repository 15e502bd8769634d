package permit

import (
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// MemoryStore is an in-process Store for tests and single-node
// deployments, and the only Store implementation in this package. It
// does the Used/Pending double-flip under its single mutex; nothing is
// persisted across restarts.
type MemoryStore struct {
	mu       sync.Mutex
	permits  map[string]contracts.Permit
	commands map[string]contracts.Command
	receipts map[string]contracts.Receipt
	order    []string // command jtis in insertion order, for fair claim order
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		permits:  make(map[string]contracts.Permit),
		commands: make(map[string]contracts.Command),
		receipts: make(map[string]contracts.Receipt),
	}
}

func (s *MemoryStore) InsertPermit(ctx context.Context, p contracts.Permit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permits[p.JTI] = p
	return nil
}

func (s *MemoryStore) GetPermit(ctx context.Context, jti string) (contracts.Permit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permits[jti]
	if !ok {
		return contracts.Permit{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ApprovePermit(ctx context.Context, jti, approvalRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permits[jti]
	if !ok {
		return ErrNotFound
	}
	ref := approvalRef
	p.ApprovalRef = &ref
	s.permits[jti] = p
	return nil
}

func (s *MemoryStore) InsertCommand(ctx context.Context, c contracts.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[c.JTI] = c
	s.order = append(s.order, c.JTI)
	return nil
}

func (s *MemoryStore) GetCommand(ctx context.Context, jti string) (contracts.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commands[jti]
	if !ok {
		return contracts.Command{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ClaimPendingCommand(ctx context.Context, target string) (contracts.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, jti := range s.order {
		c := s.commands[jti]
		if c.Target != target || !c.Pending || c.ClaimedAt != nil {
			continue
		}
		permit := s.permits[c.Permit.JTI]
		if permit.Used || permit.Expired(now) {
			continue
		}
		permit.Used = true
		s.permits[permit.JTI] = permit

		c.Pending = false
		c.ClaimedAt = &now
		c.Permit = permit
		s.commands[c.JTI] = c
		return c, nil
	}
	return contracts.Command{}, ErrNotFound
}

func (s *MemoryStore) ListClaimedWithoutReceipt(ctx context.Context) ([]contracts.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []contracts.Command
	for _, jti := range s.order {
		c := s.commands[jti]
		if c.ClaimedAt == nil {
			continue
		}
		if _, ok := s.receipts[c.JobID]; ok {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) InsertReceipt(ctx context.Context, jobID string, r contracts.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[jobID] = r
	return nil
}

func (s *MemoryStore) GetReceipt(ctx context.Context, jobID string) (contracts.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[jobID]
	if !ok {
		return contracts.Receipt{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) HasReceipt(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.receipts[jobID]
	return ok, nil
}
