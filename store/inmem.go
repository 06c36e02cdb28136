package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

type userItem struct {
	user string
	item string
}

type armKey struct {
	user    string
	group   string
	profile string
}

type memState struct {
	records   map[userItem]domain.MemoryRecord
	events    []domain.PropagationEvent
	arms      map[armKey]domain.BanditArm
	sessions  map[int64]domain.SessionRecord
	reviews   []domain.ReviewEntry
	nextEvent int64
}

func (s *memState) clone() *memState {
	c := &memState{
		records:   make(map[userItem]domain.MemoryRecord, len(s.records)),
		events:    append([]domain.PropagationEvent(nil), s.events...),
		arms:      make(map[armKey]domain.BanditArm, len(s.arms)),
		sessions:  make(map[int64]domain.SessionRecord, len(s.sessions)),
		reviews:   append([]domain.ReviewEntry(nil), s.reviews...),
		nextEvent: s.nextEvent,
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	for k, v := range s.arms {
		c.arms[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

// Memory is an in-process repository and content source. It backs tests and
// offline runs; content and user state are guarded separately so content can
// be read while a transaction holds the state lock.
type Memory struct {
	contentMu sync.RWMutex
	items     map[string]domain.CandidateNode
	goals     map[string][]string
	edges     map[string][]domain.Edge

	mu    sync.Mutex
	state *memState

	// FailEdgesFrom, when set, is returned by EdgesFrom.
	FailEdgesFrom error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]domain.CandidateNode),
		goals: make(map[string][]string),
		edges: make(map[string][]domain.Edge),
		state: &memState{
			records:  make(map[userItem]domain.MemoryRecord),
			arms:     make(map[armKey]domain.BanditArm),
			sessions: make(map[int64]domain.SessionRecord),
		},
	}
}

// PutItem adds or replaces an item's static scores.
func (m *Memory) PutItem(item domain.CandidateNode) {
	m.contentMu.Lock()
	defer m.contentMu.Unlock()
	item.Energy = 0
	item.DueAt = time.Time{}
	m.items[item.ItemID] = item
}

// AddGoalItems puts items in scope for goalID.
func (m *Memory) AddGoalItems(goalID string, itemIDs ...string) {
	m.contentMu.Lock()
	defer m.contentMu.Unlock()
	m.goals[goalID] = lo.Uniq(append(m.goals[goalID], itemIDs...))
}

// AddEdge adds a directed edge, replacing one with the same endpoints and type.
func (m *Memory) AddEdge(e domain.Edge) {
	m.contentMu.Lock()
	defer m.contentMu.Unlock()
	for i, cur := range m.edges[e.Source] {
		if cur.Target == e.Target && cur.Type == e.Type {
			m.edges[e.Source][i] = e
			return
		}
	}
	m.edges[e.Source] = append(m.edges[e.Source], e)
}

// SchedulerCandidates implements domain.ContentSource.
func (m *Memory) SchedulerCandidates(_ context.Context, goalID string) ([]domain.CandidateNode, error) {
	m.contentMu.RLock()
	defer m.contentMu.RUnlock()
	out := make([]domain.CandidateNode, 0, len(m.goals[goalID]))
	for _, id := range m.goals[goalID] {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderKey < out[j].OrderKey })
	return out, nil
}

// PrerequisiteParents implements domain.ContentSource.
func (m *Memory) PrerequisiteParents(_ context.Context, itemIDs []string) (map[string][]string, error) {
	m.contentMu.RLock()
	defer m.contentMu.RUnlock()
	wanted := lo.SliceToMap(itemIDs, func(id string) (string, struct{}) { return id, struct{}{} })
	out := make(map[string][]string)
	for _, edges := range m.edges {
		for _, e := range edges {
			if e.Type != domain.EdgeDependency {
				continue
			}
			if _, ok := wanted[e.Target]; ok {
				out[e.Target] = append(out[e.Target], e.Source)
			}
		}
	}
	for k := range out {
		sort.Strings(out[k])
	}
	return out, nil
}

// EdgesFrom implements domain.ContentSource.
func (m *Memory) EdgesFrom(_ context.Context, itemID string) ([]domain.Edge, error) {
	if m.FailEdgesFrom != nil {
		return nil, m.FailEdgesFrom
	}
	m.contentMu.RLock()
	defer m.contentMu.RUnlock()
	return append([]domain.Edge(nil), m.edges[itemID]...), nil
}

// RunInTx implements domain.Transactor. fn runs against a copy of the state
// that replaces the live state only if fn succeeds.
func (m *Memory) RunInTx(ctx context.Context, fn func(tx domain.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *Memory) locked(fn func(tx *memTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{state: m.state})
}

// PropagationEvents returns every logged event in order.
func (m *Memory) PropagationEvents() []domain.PropagationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PropagationEvent(nil), m.state.events...)
}

// MemoryRecord implements domain.UserState.
func (m *Memory) MemoryRecord(ctx context.Context, userID, itemID string) (rec domain.MemoryRecord, ok bool, err error) {
	err = m.locked(func(tx *memTx) error {
		rec, ok, err = tx.MemoryRecord(ctx, userID, itemID)
		return err
	})
	return rec, ok, err
}

// SaveMemoryRecord implements domain.UserState.
func (m *Memory) SaveMemoryRecord(ctx context.Context, rec domain.MemoryRecord) error {
	return m.locked(func(tx *memTx) error { return tx.SaveMemoryRecord(ctx, rec) })
}

// MemoryBasics implements domain.UserState.
func (m *Memory) MemoryBasics(ctx context.Context, userID string, itemIDs []string) (out map[string]domain.MemoryBasics, err error) {
	err = m.locked(func(tx *memTx) error {
		out, err = tx.MemoryBasics(ctx, userID, itemIDs)
		return err
	})
	return out, err
}

// UpdateEnergy implements domain.UserState.
func (m *Memory) UpdateEnergy(ctx context.Context, userID, itemID string, energy float64) error {
	return m.locked(func(tx *memTx) error { return tx.UpdateEnergy(ctx, userID, itemID, energy) })
}

// ApplyPropagation implements domain.UserState.
func (m *Memory) ApplyPropagation(ctx context.Context, userID string, updates []domain.EnergyUpdate, event domain.PropagationEvent) (int64, error) {
	var id int64
	err := m.RunInTx(ctx, func(r domain.Repository) error {
		var err error
		id, err = r.ApplyPropagation(ctx, userID, updates, event)
		return err
	})
	return id, err
}

// LogPropagation implements domain.UserState.
func (m *Memory) LogPropagation(ctx context.Context, event domain.PropagationEvent) (id int64, err error) {
	err = m.locked(func(tx *memTx) error {
		id, err = tx.LogPropagation(ctx, event)
		return err
	})
	return id, err
}

// ParentEnergies implements domain.UserState.
func (m *Memory) ParentEnergies(ctx context.Context, userID string, itemIDs []string) (out map[string]float64, err error) {
	err = m.locked(func(tx *memTx) error {
		out, err = tx.ParentEnergies(ctx, userID, itemIDs)
		return err
	})
	return out, err
}

// BanditArms implements domain.BanditStore.
func (m *Memory) BanditArms(ctx context.Context, userID, goalGroup string) (out []domain.BanditArm, err error) {
	err = m.locked(func(tx *memTx) error {
		out, err = tx.BanditArms(ctx, userID, goalGroup)
		return err
	})
	return out, err
}

// InitBanditArms implements domain.BanditStore.
func (m *Memory) InitBanditArms(ctx context.Context, userID, goalGroup string, names []string) error {
	return m.RunInTx(ctx, func(r domain.Repository) error { return r.InitBanditArms(ctx, userID, goalGroup, names) })
}

// SaveBanditArm implements domain.BanditStore.
func (m *Memory) SaveBanditArm(ctx context.Context, arm domain.BanditArm) error {
	return m.locked(func(tx *memTx) error { return tx.SaveBanditArm(ctx, arm) })
}

// SaveSession implements domain.SessionStore.
func (m *Memory) SaveSession(ctx context.Context, s domain.SessionRecord) error {
	return m.locked(func(tx *memTx) error { return tx.SaveSession(ctx, s) })
}

// Session implements domain.SessionStore.
func (m *Memory) Session(ctx context.Context, id int64) (s domain.SessionRecord, err error) {
	err = m.locked(func(tx *memTx) error {
		s, err = tx.Session(ctx, id)
		return err
	})
	return s, err
}

// PendingSessions implements domain.SessionStore.
func (m *Memory) PendingSessions(ctx context.Context, cutoff time.Time, limit int) (out []domain.SessionRecord, err error) {
	err = m.locked(func(tx *memTx) error {
		out, err = tx.PendingSessions(ctx, cutoff, limit)
		return err
	})
	return out, err
}

// MarkSessionRewarded implements domain.SessionStore.
func (m *Memory) MarkSessionRewarded(ctx context.Context, id int64, reward float64, at time.Time) error {
	return m.locked(func(tx *memTx) error { return tx.MarkSessionRewarded(ctx, id, reward, at) })
}

// AppendReview implements domain.ReviewLog.
func (m *Memory) AppendReview(ctx context.Context, e domain.ReviewEntry) error {
	return m.locked(func(tx *memTx) error { return tx.AppendReview(ctx, e) })
}

// Reviews implements domain.ReviewLog.
func (m *Memory) Reviews(ctx context.Context, userID string, itemIDs []string, from, to time.Time) (out []domain.ReviewEntry, err error) {
	err = m.locked(func(tx *memTx) error {
		out, err = tx.Reviews(ctx, userID, itemIDs, from, to)
		return err
	})
	return out, err
}

// memTx operates on a state the caller has already locked.
type memTx struct {
	state *memState
}

func (t *memTx) MemoryRecord(_ context.Context, userID, itemID string) (domain.MemoryRecord, bool, error) {
	rec, ok := t.state.records[userItem{userID, itemID}]
	return rec, ok, nil
}

func (t *memTx) SaveMemoryRecord(_ context.Context, rec domain.MemoryRecord) error {
	if rec.Energy < domain.MinEnergy || rec.Energy > domain.MaxEnergy {
		return domain.Validation("SaveMemoryRecord", fmt.Errorf("%w: %f", domain.ErrInvalidEnergy, rec.Energy))
	}
	t.state.records[userItem{rec.UserID, rec.ItemID}] = rec
	return nil
}

func (t *memTx) MemoryBasics(_ context.Context, userID string, itemIDs []string) (map[string]domain.MemoryBasics, error) {
	out := make(map[string]domain.MemoryBasics)
	for _, id := range itemIDs {
		if rec, ok := t.state.records[userItem{userID, id}]; ok {
			out[id] = domain.MemoryBasics{Energy: rec.Energy, DueAt: rec.DueAt}
		}
	}
	return out, nil
}

func (t *memTx) UpdateEnergy(_ context.Context, userID, itemID string, energy float64) error {
	if energy < domain.MinEnergy || energy > domain.MaxEnergy {
		return domain.Validation("UpdateEnergy", fmt.Errorf("%w: %f", domain.ErrInvalidEnergy, energy))
	}
	key := userItem{userID, itemID}
	rec, ok := t.state.records[key]
	if !ok {
		rec = domain.NewMemoryRecord(userID, itemID)
	}
	rec.Energy = energy
	t.state.records[key] = rec
	return nil
}

func (t *memTx) ApplyPropagation(ctx context.Context, userID string, updates []domain.EnergyUpdate, event domain.PropagationEvent) (int64, error) {
	for _, u := range updates {
		if err := t.UpdateEnergy(ctx, userID, u.ItemID, u.NewEnergy); err != nil {
			return 0, err
		}
	}
	return t.LogPropagation(ctx, event)
}

func (t *memTx) LogPropagation(_ context.Context, event domain.PropagationEvent) (int64, error) {
	t.state.nextEvent++
	event.ID = t.state.nextEvent
	event.Details = append([]domain.PropagationDetail(nil), event.Details...)
	t.state.events = append(t.state.events, event)
	return event.ID, nil
}

func (t *memTx) ParentEnergies(_ context.Context, userID string, itemIDs []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, id := range itemIDs {
		if rec, ok := t.state.records[userItem{userID, id}]; ok {
			out[id] = rec.Energy
		}
	}
	return out, nil
}

func (t *memTx) BanditArms(_ context.Context, userID, goalGroup string) ([]domain.BanditArm, error) {
	var out []domain.BanditArm
	for k, arm := range t.state.arms {
		if k.user == userID && k.group == goalGroup {
			out = append(out, arm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProfileName < out[j].ProfileName })
	return out, nil
}

func (t *memTx) InitBanditArms(_ context.Context, userID, goalGroup string, names []string) error {
	now := time.Now()
	for _, name := range names {
		key := armKey{userID, goalGroup, name}
		if _, ok := t.state.arms[key]; ok {
			continue
		}
		t.state.arms[key] = domain.BanditArm{
			UserID: userID, GoalGroup: goalGroup, ProfileName: name,
			Successes: 1, Failures: 1, UpdatedAt: now,
		}
	}
	return nil
}

func (t *memTx) SaveBanditArm(_ context.Context, arm domain.BanditArm) error {
	t.state.arms[armKey{arm.UserID, arm.GoalGroup, arm.ProfileName}] = arm
	return nil
}

func (t *memTx) SaveSession(_ context.Context, s domain.SessionRecord) error {
	s.Items = append([]string(nil), s.Items...)
	t.state.sessions[s.ID] = s
	return nil
}

func (t *memTx) Session(_ context.Context, id int64) (domain.SessionRecord, error) {
	s, ok := t.state.sessions[id]
	if !ok {
		return domain.SessionRecord{}, domain.NotFound("Session", fmt.Errorf("session %d", id))
	}
	return s, nil
}

func (t *memTx) PendingSessions(_ context.Context, cutoff time.Time, limit int) ([]domain.SessionRecord, error) {
	out := lo.Filter(lo.Values(t.state.sessions), func(s domain.SessionRecord, _ int) bool {
		return s.RewardedAt == nil && !s.CreatedAt.After(cutoff)
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) MarkSessionRewarded(_ context.Context, id int64, reward float64, at time.Time) error {
	s, ok := t.state.sessions[id]
	if !ok {
		return domain.NotFound("MarkSessionRewarded", fmt.Errorf("session %d", id))
	}
	s.Reward = &reward
	s.RewardedAt = &at
	t.state.sessions[id] = s
	return nil
}

func (t *memTx) AppendReview(_ context.Context, e domain.ReviewEntry) error {
	t.state.reviews = append(t.state.reviews, e)
	return nil
}

func (t *memTx) Reviews(_ context.Context, userID string, itemIDs []string, from, to time.Time) ([]domain.ReviewEntry, error) {
	wanted := lo.SliceToMap(itemIDs, func(id string) (string, struct{}) { return id, struct{}{} })
	return lo.Filter(t.state.reviews, func(e domain.ReviewEntry, _ int) bool {
		_, ok := wanted[e.ItemID]
		return ok && e.UserID == userID && !e.ReviewedAt.Before(from) && !e.ReviewedAt.After(to)
	}), nil
}

var (
	_ domain.ContentSource = (*Memory)(nil)
	_ domain.Repository    = (*Memory)(nil)
	_ domain.Transactor    = (*Memory)(nil)
	_ domain.Repository    = (*memTx)(nil)
)
