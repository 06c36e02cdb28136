package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
	"github.com/iqrahapp/iqrah-mobile-sub001/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestStore opens a file-backed sqlite database in a temp dir and runs
// migrations. A file is used so reads on the pool can proceed while a
// transaction is open.
func setupTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "iqrah.db") + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1"
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := migrations.RunMigrations(db, DriverSQLite, zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	s, err := New(db, DriverSQLite, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func seedContent(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c", "d"} {
		if err := s.UpsertItem(ctx, domain.CandidateNode{ItemID: id, FoundationalScore: 0.5, OrderKey: int64(10 - i)}); err != nil {
			t.Fatalf("UpsertItem(%s): %v", id, err)
		}
	}
	if err := s.AddGoalItems(ctx, "surah:1", "a", "b", "c", "a"); err != nil {
		t.Fatalf("AddGoalItems: %v", err)
	}
	edges := []domain.Edge{
		{Source: "a", Target: "c", Type: domain.EdgeDependency, Dist: domain.Constant(1)},
		{Source: "b", Target: "c", Type: domain.EdgeDependency, Dist: domain.Constant(1)},
		{Source: "a", Target: "b", Type: domain.EdgeKnowledge, Dist: domain.Beta(2, 6)},
	}
	for _, e := range edges {
		if err := s.UpsertEdge(ctx, e); err != nil {
			t.Fatalf("UpsertEdge: %v", err)
		}
	}
}

func TestStore_ContentQueries(t *testing.T) {
	s := setupTestStore(t)
	seedContent(t, s)
	ctx := context.Background()

	cands, err := s.SchedulerCandidates(ctx, "surah:1")
	if err != nil {
		t.Fatalf("SchedulerCandidates: %v", err)
	}
	if len(cands) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(cands))
	}
	if cands[0].ItemID != "c" || cands[2].ItemID != "a" {
		t.Fatalf("expected order_key ordering c,b,a; got %v", cands)
	}

	parents, err := s.PrerequisiteParents(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("PrerequisiteParents: %v", err)
	}
	if got := parents["c"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected parents of c to be [a b], got %v", got)
	}
	if _, ok := parents["b"]; ok {
		t.Fatalf("knowledge edge must not count as prerequisite")
	}

	edges, err := s.EdgesFrom(ctx, "a")
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges from a, got %d", len(edges))
	}
	if edges[0].Target != "b" || edges[0].Dist.Kind != domain.DistBeta || edges[0].Dist.P2 != 6 {
		t.Fatalf("unexpected first edge %+v", edges[0])
	}
}

func TestStore_EdgeTypesOnSamePairCoexist(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, e := range []domain.Edge{
		{Source: "a", Target: "b", Type: domain.EdgeDependency},
		{Source: "a", Target: "b", Type: domain.EdgeKnowledge, Dist: domain.Constant(0.5)},
		{Source: "a", Target: "b", Type: domain.EdgeKnowledge, Dist: domain.Constant(0.8)},
	} {
		if err := s.UpsertEdge(ctx, e); err != nil {
			t.Fatalf("UpsertEdge(%s): %v", e.Type, err)
		}
	}

	parents, err := s.PrerequisiteParents(ctx, []string{"b"})
	if err != nil {
		t.Fatalf("PrerequisiteParents: %v", err)
	}
	if got := parents["b"]; len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected dependency a -> b to survive, got %v", got)
	}

	edges, err := s.EdgesFrom(ctx, "a")
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected one edge per type, got %+v", edges)
	}
	if edges[0].Type != domain.EdgeDependency || edges[1].Type != domain.EdgeKnowledge {
		t.Fatalf("unexpected edge types %+v", edges)
	}
	if edges[1].Dist.P1 != 0.8 {
		t.Fatalf("expected knowledge edge to be replaced, got %+v", edges[1])
	}
}

func TestStore_MemoryRecordRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.MemoryRecord(ctx, "u1", "a"); err != nil || ok {
		t.Fatalf("expected missing record, got ok=%v err=%v", ok, err)
	}

	due := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	rec := domain.MemoryRecord{
		UserID: "u1", ItemID: "a", Stability: 3.1, Difficulty: 5.2, Energy: 0.4,
		LastReviewedAt: due.Add(-72 * time.Hour), DueAt: due, ReviewCount: 2,
	}
	if err := s.SaveMemoryRecord(ctx, rec); err != nil {
		t.Fatalf("SaveMemoryRecord: %v", err)
	}
	got, ok, err := s.MemoryRecord(ctx, "u1", "a")
	if err != nil || !ok {
		t.Fatalf("MemoryRecord: ok=%v err=%v", ok, err)
	}
	if got != rec {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}

	rec.Energy = 1.5
	if err := s.SaveMemoryRecord(ctx, rec); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for energy 1.5, got %v", err)
	}
}

func TestStore_UpdateEnergyCreatesBareRecord(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.UpdateEnergy(ctx, "u1", "b", 0.25); err != nil {
		t.Fatalf("UpdateEnergy: %v", err)
	}
	rec, ok, err := s.MemoryRecord(ctx, "u1", "b")
	if err != nil || !ok {
		t.Fatalf("MemoryRecord: ok=%v err=%v", ok, err)
	}
	if rec.Energy != 0.25 || !rec.DueAt.IsZero() || rec.ReviewCount != 0 {
		t.Fatalf("unexpected bare record %+v", rec)
	}
	if err := s.UpdateEnergy(ctx, "u1", "b", -0.1); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStore_MemoryBasicsBatches(t *testing.T) {
	s := setupTestStore(t, WithBatchSize(2))
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d", "e"}
	for i, id := range ids {
		if err := s.UpdateEnergy(ctx, "u1", id, float64(i)/10); err != nil {
			t.Fatalf("UpdateEnergy: %v", err)
		}
	}
	if err := s.UpdateEnergy(ctx, "u2", "a", 0.9); err != nil {
		t.Fatalf("UpdateEnergy: %v", err)
	}

	basics, err := s.MemoryBasics(ctx, "u1", append(ids, "missing"))
	if err != nil {
		t.Fatalf("MemoryBasics: %v", err)
	}
	if len(basics) != len(ids) {
		t.Fatalf("expected %d entries, got %d", len(ids), len(basics))
	}
	if basics["e"].Energy != 0.4 {
		t.Fatalf("expected energy 0.4 for e, got %f", basics["e"].Energy)
	}

	energies, err := s.ParentEnergies(ctx, "u1", []string{"a", "missing"})
	if err != nil {
		t.Fatalf("ParentEnergies: %v", err)
	}
	if len(energies) != 1 || energies["a"] != 0 {
		t.Fatalf("unexpected parent energies %v", energies)
	}
}

func TestStore_ApplyPropagation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	event := domain.PropagationEvent{
		UserID: "u1", SourceItemID: "a", TriggeredAt: now,
		Details: []domain.PropagationDetail{
			{TargetItemID: "b", EnergyChange: 0.05, Path: "a -> b", Reason: "Constant(1) -> 1"},
			{TargetItemID: "c", EnergyChange: 0.02, Path: "b -> c", Reason: "Constant(0.4) -> 0.4"},
		},
	}
	updates := []domain.EnergyUpdate{
		{ItemID: "b", NewEnergy: 0.05},
		{ItemID: "c", NewEnergy: 0.02},
	}
	id, err := s.ApplyPropagation(ctx, "u1", updates, event)
	if err != nil {
		t.Fatalf("ApplyPropagation: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive event id, got %d", id)
	}

	got, err := s.PropagationEvent(ctx, id)
	if err != nil {
		t.Fatalf("PropagationEvent: %v", err)
	}
	if len(got.Details) != 2 || got.Details[1].Path != "b -> c" || !got.TriggeredAt.Equal(now) {
		t.Fatalf("unexpected event %+v", got)
	}
	basics, err := s.MemoryBasics(ctx, "u1", []string{"b", "c"})
	if err != nil {
		t.Fatalf("MemoryBasics: %v", err)
	}
	if basics["b"].Energy != 0.05 || basics["c"].Energy != 0.02 {
		t.Fatalf("energies not applied: %v", basics)
	}

	if _, err := s.PropagationEvent(ctx, id+100); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStore_ApplyPropagationIsAtomic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	updates := []domain.EnergyUpdate{
		{ItemID: "b", NewEnergy: 0.3},
		{ItemID: "c", NewEnergy: 2},
	}
	_, err := s.ApplyPropagation(ctx, "u1", updates, domain.PropagationEvent{UserID: "u1", SourceItemID: "a"})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok, _ := s.MemoryRecord(ctx, "u1", "b"); ok {
		t.Fatalf("first update must be rolled back")
	}
}

func TestStore_RunInTxRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(tx domain.Repository) error {
		if err := tx.UpdateEnergy(ctx, "u1", "a", 0.7); err != nil {
			return err
		}
		if err := tx.AppendReview(ctx, domain.ReviewEntry{UserID: "u1", ItemID: "a", Grade: domain.Good, ReviewedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok, _ := s.MemoryRecord(ctx, "u1", "a"); ok {
		t.Fatalf("energy write should have been rolled back")
	}
	reviews, err := s.Reviews(ctx, "u1", []string{"a"}, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Reviews: %v", err)
	}
	if len(reviews) != 0 {
		t.Fatalf("review should have been rolled back, got %d", len(reviews))
	}
}

func TestStore_BanditArms(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	names := []string{"balanced", "urgency_first", "balanced"}
	if err := s.InitBanditArms(ctx, "u1", "surah", names); err != nil {
		t.Fatalf("InitBanditArms: %v", err)
	}
	arms, err := s.BanditArms(ctx, "u1", "surah")
	if err != nil {
		t.Fatalf("BanditArms: %v", err)
	}
	if len(arms) != 2 {
		t.Fatalf("expected 2 arms, got %d", len(arms))
	}

	arm := arms[0]
	arm.Successes = 4.5
	arm.Failures = 1.5
	if err := s.SaveBanditArm(ctx, arm); err != nil {
		t.Fatalf("SaveBanditArm: %v", err)
	}

	// Re-initialising must not reset existing posteriors.
	if err := s.InitBanditArms(ctx, "u1", "surah", []string{"balanced", "urgency_first", "foundation_first"}); err != nil {
		t.Fatalf("InitBanditArms: %v", err)
	}
	arms, err = s.BanditArms(ctx, "u1", "surah")
	if err != nil {
		t.Fatalf("BanditArms: %v", err)
	}
	if len(arms) != 3 {
		t.Fatalf("expected 3 arms, got %d", len(arms))
	}
	for _, a := range arms {
		if a.ProfileName == arm.ProfileName && (a.Successes != 4.5 || a.Failures != 1.5) {
			t.Fatalf("posterior was reset: %+v", a)
		}
		if a.ProfileName == "foundation_first" && (a.Successes != 1 || a.Failures != 1) {
			t.Fatalf("new arm should start at (1,1): %+v", a)
		}
	}
}

func TestStore_Sessions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 3; i++ {
		rec := domain.SessionRecord{
			ID: 100 + i, UserID: "u1", GoalID: "surah:1", GoalGroup: "surah",
			ProfileName: "balanced", Mode: domain.ModeMixedLearning,
			Items: []string{"a", "b"}, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.SaveSession(ctx, rec); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}

	got, err := s.Session(ctx, 101)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(got.Items) != 2 || got.Mode != domain.ModeMixedLearning || got.RewardedAt != nil {
		t.Fatalf("unexpected session %+v", got)
	}
	if _, err := s.Session(ctx, 1); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	pending, err := s.PendingSessions(ctx, base.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("PendingSessions: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != 101 || pending[1].ID != 102 {
		t.Fatalf("unexpected pending sessions %+v", pending)
	}

	if err := s.MarkSessionRewarded(ctx, 101, 0.75, base.Add(30*time.Hour)); err != nil {
		t.Fatalf("MarkSessionRewarded: %v", err)
	}
	pending, err = s.PendingSessions(ctx, base.Add(5*time.Hour), 1)
	if err != nil {
		t.Fatalf("PendingSessions: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != 102 {
		t.Fatalf("expected session 102 first, got %+v", pending)
	}
	got, err = s.Session(ctx, 101)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Reward == nil || *got.Reward != 0.75 || got.RewardedAt == nil {
		t.Fatalf("reward not recorded: %+v", got)
	}
	if err := s.MarkSessionRewarded(ctx, 999, 1, base); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStore_Reviews(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	entries := []domain.ReviewEntry{
		{UserID: "u1", ItemID: "a", Grade: domain.Good, ReviewedAt: base, EnergyBefore: 0, EnergyAfter: 0.1},
		{UserID: "u1", ItemID: "b", Grade: domain.Again, ReviewedAt: base.Add(time.Hour), EnergyBefore: 0.5, EnergyAfter: 0.45},
		{UserID: "u1", ItemID: "a", Grade: domain.Easy, ReviewedAt: base.Add(48 * time.Hour)},
		{UserID: "u2", ItemID: "a", Grade: domain.Hard, ReviewedAt: base},
	}
	for _, e := range entries {
		if err := s.AppendReview(ctx, e); err != nil {
			t.Fatalf("AppendReview: %v", err)
		}
	}

	got, err := s.Reviews(ctx, "u1", []string{"a", "b"}, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Reviews: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 reviews in window, got %d", len(got))
	}
	if got[1].Grade != domain.Again || got[1].EnergyAfter != 0.45 {
		t.Fatalf("unexpected review %+v", got[1])
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	if _, err := New(nil, "mysql", zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestClassify(t *testing.T) {
	if classify("op", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
	if err := classify("op", errors.New("x")); !domain.IsRepository(err) || domain.IsRetryable(err) {
		t.Fatalf("plain error should be a non-retryable repository error, got %v", err)
	}
}
