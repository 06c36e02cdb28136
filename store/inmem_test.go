package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iqrahapp/iqrah-mobile-sub001/domain"
)

func TestMemory_RunInTxRollsBack(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.UpdateEnergy(ctx, "u1", "a", 0.2); err != nil {
		t.Fatalf("UpdateEnergy: %v", err)
	}
	boom := errors.New("boom")
	err := m.RunInTx(ctx, func(tx domain.Repository) error {
		if err := tx.UpdateEnergy(ctx, "u1", "a", 0.9); err != nil {
			return err
		}
		if _, err := tx.LogPropagation(ctx, domain.PropagationEvent{UserID: "u1", SourceItemID: "a"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	rec, _, _ := m.MemoryRecord(ctx, "u1", "a")
	if rec.Energy != 0.2 {
		t.Fatalf("expected energy 0.2 after rollback, got %f", rec.Energy)
	}
	if n := len(m.PropagationEvents()); n != 0 {
		t.Fatalf("expected no events after rollback, got %d", n)
	}
}

func TestMemory_ContentReadableDuringTx(t *testing.T) {
	m := NewMemory()
	m.PutItem(domain.CandidateNode{ItemID: "a", OrderKey: 2})
	m.PutItem(domain.CandidateNode{ItemID: "b", OrderKey: 1})
	m.AddGoalItems("g", "a", "b")
	m.AddEdge(domain.Edge{Source: "a", Target: "b", Type: domain.EdgeDependency, Dist: domain.Constant(1)})
	ctx := context.Background()

	err := m.RunInTx(ctx, func(tx domain.Repository) error {
		cands, err := m.SchedulerCandidates(ctx, "g")
		if err != nil {
			return err
		}
		if len(cands) != 2 || cands[0].ItemID != "b" {
			t.Errorf("unexpected candidates %+v", cands)
		}
		parents, err := m.PrerequisiteParents(ctx, []string{"b"})
		if err != nil {
			return err
		}
		if len(parents["b"]) != 1 {
			t.Errorf("unexpected parents %v", parents)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
}

func TestMemory_AddEdgeKeysOnType(t *testing.T) {
	m := NewMemory()
	m.AddEdge(domain.Edge{Source: "a", Target: "b", Type: domain.EdgeDependency})
	m.AddEdge(domain.Edge{Source: "a", Target: "b", Type: domain.EdgeKnowledge, Dist: domain.Constant(0.5)})
	m.AddEdge(domain.Edge{Source: "a", Target: "b", Type: domain.EdgeKnowledge, Dist: domain.Constant(0.8)})
	ctx := context.Background()

	parents, err := m.PrerequisiteParents(ctx, []string{"b"})
	if err != nil {
		t.Fatalf("PrerequisiteParents: %v", err)
	}
	if len(parents["b"]) != 1 {
		t.Fatalf("expected one prerequisite, got %v", parents)
	}
	edges, err := m.EdgesFrom(ctx, "a")
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	if len(edges) != 2 || edges[1].Dist.P1 != 0.8 {
		t.Fatalf("unexpected edges %+v", edges)
	}
}

func TestMemory_BanditArmsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.InitBanditArms(ctx, "u1", "surah", []string{"balanced", "urgency_first"}); err != nil {
		t.Fatalf("InitBanditArms: %v", err)
	}
	if err := m.SaveBanditArm(ctx, domain.BanditArm{UserID: "u1", GoalGroup: "surah", ProfileName: "balanced", Successes: 3, Failures: 2}); err != nil {
		t.Fatalf("SaveBanditArm: %v", err)
	}
	if err := m.InitBanditArms(ctx, "u1", "surah", []string{"balanced", "urgency_first"}); err != nil {
		t.Fatalf("InitBanditArms: %v", err)
	}
	arms, err := m.BanditArms(ctx, "u1", "surah")
	if err != nil {
		t.Fatalf("BanditArms: %v", err)
	}
	if len(arms) != 2 || arms[0].ProfileName != "balanced" || arms[0].Successes != 3 {
		t.Fatalf("unexpected arms %+v", arms)
	}
}

func TestMemory_PendingSessions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 3; i++ {
		if err := m.SaveSession(ctx, domain.SessionRecord{ID: i, UserID: "u1", CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}
	if err := m.MarkSessionRewarded(ctx, 1, 0.5, base); err != nil {
		t.Fatalf("MarkSessionRewarded: %v", err)
	}
	pending, err := m.PendingSessions(ctx, base.Add(3*time.Hour), 0)
	if err != nil {
		t.Fatalf("PendingSessions: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != 2 {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if _, err := m.Session(ctx, 42); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := m.MarkSessionRewarded(ctx, 42, 1, base); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
