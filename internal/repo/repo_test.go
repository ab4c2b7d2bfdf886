package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"degasline/internal/db"
	"degasline/internal/domain"
	"degasline/internal/migrate"
)

func setupRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func day(s string) time.Time {
	t, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	b := domain.Batch{ID: "R-100", Label: "Huila lot 3", RoastDate: day("2024-03-01"), Process: "washed", CreatedAt: "2024-03-01T10:00:00Z"}
	if err := r.InsertBatch(ctx, nil, b); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetBatch(ctx, "R-100")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.RoastDate.Equal(b.RoastDate) || got.Label != b.Label || got.Process != "washed" || got.Variety != "" {
		t.Fatalf("unexpected batch: %+v", got)
	}
	if _, err := r.GetBatch(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.InsertBatch(ctx, nil, b); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
	ok, err := r.BatchExists(ctx, nil, "R-100")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
}

func TestRecentBatchesOrder(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	for i, d := range []string{"2024-01-05", "2024-02-10", "2023-12-30", "2024-02-10"} {
		id := string(rune('A' + i))
		if err := r.InsertBatch(ctx, nil, domain.Batch{ID: id, RoastDate: day(d), Process: "natural", CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	got, err := r.RecentBatches(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	var ids []string
	for _, b := range got {
		ids = append(ids, b.ID)
	}
	want := []string{"B", "D", "A"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestAssessments(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	if err := r.InsertBatch(ctx, nil, domain.Batch{ID: "R-1", RoastDate: day("2024-01-01"), Process: "honey", CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	first := domain.Assessment{ID: "a1", BatchID: "R-1", Model: "rule-based", RiskLevel: domain.RiskHigh, Blocked: true, ReadyDate: "2024-01-15", Result: []byte(`{"x":1}`), ActorID: "ops", CreatedAt: "2024-01-02T00:00:00Z"}
	second := first
	second.ID, second.Model, second.Blocked, second.RiskLevel, second.CreatedAt = "a2", "physical", false, domain.RiskLow, "2024-01-03T00:00:00Z"
	for _, a := range []domain.Assessment{first, second} {
		if err := r.InsertAssessment(ctx, nil, a); err != nil {
			t.Fatalf("insert %s: %v", a.ID, err)
		}
	}
	got, err := r.ListAssessments(ctx, "R-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a2" || got[1].ID != "a1" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if !got[1].Blocked || got[1].RiskLevel != domain.RiskHigh || string(got[1].Result) != `{"x":1}` {
		t.Fatalf("unexpected assessment: %+v", got[1])
	}
	orphan := first
	orphan.ID, orphan.BatchID = "a3", "nope"
	if err := r.InsertAssessment(ctx, nil, orphan); err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	insert := func(tx *sql.Tx, typ, id string) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES ('2024-01-01T00:00:00Z',?,'batch',?,'ops','{}')`, typ, id); err != nil {
			t.Fatal(err)
		}
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	insert(tx, "batch.registered", "R-1")
	insert(tx, "dispatch.blocked", "R-1")
	insert(tx, "batch.registered", "R-2")
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	latest, err := r.LatestEventID(ctx)
	if err != nil || latest != 3 {
		t.Fatalf("latest id = %d, %v", latest, err)
	}
	regs, err := r.LatestEvents(ctx, 10, EventFilter{Type: "batch.registered"})
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 2 || regs[0].EntityID != "R-2" {
		t.Fatalf("unexpected events: %+v", regs)
	}
	after, err := r.EventsAfter(ctx, 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].ID != 2 || after[1].ID != 3 {
		t.Fatalf("unexpected events after cursor: %+v", after)
	}
}

func TestAPIKeys(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	key := domain.APIKey{ID: "k1", ActorID: "roaster", Name: "ci", KeyHash: HashAPIKey(" secret "), CreatedAt: "2024-01-01T00:00:00Z"}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, HashAPIKey("secret"))
	if err != nil || got.ActorID != "roaster" || got.Name != "ci" {
		t.Fatalf("lookup = %+v, %v", got, err)
	}
	keys, err := r.ListAPIKeys(ctx, "roaster")
	if err != nil || len(keys) != 1 {
		t.Fatalf("list = %v, %v", keys, err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, HashAPIKey("secret")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	r := setupRepo(t)
	if err := migrate.Migrate(r.DB); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := migrate.Version(context.Background(), r.DB)
	if err != nil || v != 1 {
		t.Fatalf("version = %d, %v", v, err)
	}
}
