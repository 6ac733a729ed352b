package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/open-apime/apime-gateway/internal/pkg/queue"
	"github.com/open-apime/apime-gateway/internal/storage/model"
)

func ev(id string) model.WebhookEvent {
	return model.WebhookEvent{ID: id, Type: model.EventMessage}
}

func TestFIFOPerKey(t *testing.T) {
	q := NewQueue(0)
	ctx := context.Background()
	for _, id := range []string{"a1", "a2", "a3"} {
		if err := q.Enqueue(ctx, "a", ev(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.Enqueue(ctx, "b", ev("b1")); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"a1", "a2", "a3"} {
		got, err := q.Dequeue(ctx, "a", time.Second)
		if err != nil || got == nil {
			t.Fatalf("Dequeue: %v %v", got, err)
		}
		if got.ID != want {
			t.Fatalf("got %s, want %s", got.ID, want)
		}
	}
	if n, _ := q.Size(ctx, "b"); n != 1 {
		t.Fatalf("size(b) = %d", n)
	}
}

func TestDequeueTimeout(t *testing.T) {
	q := NewQueue(0)
	got, err := q.Dequeue(context.Background(), "x", 10*time.Millisecond)
	if err != nil || got != nil {
		t.Fatalf("esperava timeout vazio, got %v %v", got, err)
	}
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	q := NewQueue(0)
	ctx := context.Background()
	done := make(chan *model.WebhookEvent, 1)
	go func() {
		e, _ := q.Dequeue(ctx, "x", 2*time.Second)
		done <- e
	}()
	time.Sleep(20 * time.Millisecond)
	if err := q.Enqueue(ctx, "x", ev("late")); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-done:
		if e == nil || e.ID != "late" {
			t.Fatalf("got %v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue não acordou")
	}
}

func TestPurgeAndLimit(t *testing.T) {
	q := NewQueue(2)
	ctx := context.Background()
	_ = q.Enqueue(ctx, "x", ev("1"))
	_ = q.Enqueue(ctx, "x", ev("2"))
	if err := q.Enqueue(ctx, "x", ev("3")); !errors.Is(err, queue.ErrFull) {
		t.Fatalf("esperava ErrFull, got %v", err)
	}
	n, err := q.Purge(ctx, "x")
	if err != nil || n != 2 {
		t.Fatalf("Purge = %d, %v", n, err)
	}
	if size, _ := q.Size(ctx, "x"); size != 0 {
		t.Fatalf("size = %d", size)
	}
}

func TestDequeueWaitingAcrossPurgeWakesOnEnqueue(t *testing.T) {
	q := NewQueue(0)
	ctx := context.Background()
	done := make(chan *model.WebhookEvent, 1)
	go func() {
		e, _ := q.Dequeue(ctx, "x", 5*time.Second)
		done <- e
	}()
	time.Sleep(20 * time.Millisecond)
	if _, err := q.Purge(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, "x", ev("after-purge")); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-done:
		if e == nil || e.ID != "after-purge" {
			t.Fatalf("got %v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue em espera não acordou após Purge + Enqueue")
	}
}

func TestCloseUnblocksDequeue(t *testing.T) {
	q := NewQueue(0)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background(), "x", 5*time.Second)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = q.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, queue.ErrClosed) {
			t.Fatalf("got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close não desbloqueou Dequeue")
	}
	if err := q.Enqueue(context.Background(), "x", ev("z")); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("Enqueue após Close: %v", err)
	}
}
