package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/storage/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInstanceRepoRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewInstanceRepository(openTestDB(t))

	created, err := repo.Create(ctx, model.Instance{
		ID:            "acme_1",
		WebhookURL:    "https://hooks.example.com/a",
		WebhookEvents: []string{model.EventMessage, model.EventReady},
		CreatedAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.WebhookURL != "https://hooks.example.com/a" || !got.WebhookEnabled {
		t.Errorf("webhook = %q enabled=%v", got.WebhookURL, got.WebhookEnabled)
	}
	if len(got.WebhookEvents) != 2 || got.WebhookEvents[0] != model.EventMessage {
		t.Errorf("events = %v", got.WebhookEvents)
	}
	if got.State != model.InstanceStateDisconnected {
		t.Errorf("state = %s", got.State)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("createdAt = %v", got.CreatedAt)
	}

	if _, err := repo.Create(ctx, model.Instance{ID: "acme_1"}); !errors.Is(err, model.ErrAlreadyExists) {
		t.Fatalf("esperava ErrAlreadyExists, got %v", err)
	}

	got.WebhookURL = ""
	got.WebhookEvents = nil
	if _, err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	list, err := repo.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}
	if list[0].WebhookEnabled || len(list[0].WebhookEvents) != 0 {
		t.Errorf("update não aplicado: %+v", list[0])
	}

	if err := repo.Delete(ctx, "acme_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, "acme_1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("segundo Delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, "acme_1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetByID após Delete: %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "again.db")
	for i := 0; i < 2; i++ {
		db, err := Open(context.Background(), path, zap.NewNop())
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		db.Close()
	}
}
