package embedder

import (
	"context"
	"errors"
	"testing"
)

func TestEmbedRequiresSingle(t *testing.T) {
	c := &Callback{}
	if _, err := c.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected BadFunctionCall when Single is unset")
	}
}

func TestEmbedBatchFallsBackToSingle(t *testing.T) {
	calls := 0
	c := &Callback{Single: func(ctx context.Context, text string) ([]float32, error) {
		calls++
		return []float32{float32(len(text))}, nil
	}}
	out, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"}, 1)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 fallback calls, got %d", calls)
	}
	if out[1][0] != 2 {
		t.Fatalf("expected vector for 'bb' to be [2], got %v", out[1])
	}
}

func TestEmbedBatchUsesBatchAndSplits(t *testing.T) {
	c := &Callback{Batch: func(ctx context.Context, texts []string) ([]float32, error) {
		flat := make([]float32, 0, len(texts)*2)
		for i := range texts {
			flat = append(flat, float32(i), float32(i)+0.5)
		}
		return flat, nil
	}}
	out, err := c.EmbedBatch(context.Background(), []string{"x", "y"}, 2)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if out[1][0] != 1 || out[1][1] != 1.5 {
		t.Fatalf("unexpected split result: %v", out[1])
	}
}

func TestEmbedBatchRejectsLengthMismatch(t *testing.T) {
	c := &Callback{Batch: func(ctx context.Context, texts []string) ([]float32, error) {
		return []float32{1, 2, 3}, nil
	}}
	if _, err := c.EmbedBatch(context.Background(), []string{"x", "y"}, 2); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

type countingLock struct{ locks, unlocks int }

func (l *countingLock) Lock()   { l.locks++ }
func (l *countingLock) Unlock() { l.unlocks++ }

func TestHostLockWrapsCallbackOnly(t *testing.T) {
	lock := &countingLock{}
	c := &Callback{
		Lock: lock,
		Single: func(ctx context.Context, text string) ([]float32, error) {
			if lock.locks != lock.unlocks+1 {
				t.Fatal("lock should be held during the callback")
			}
			return []float32{1}, nil
		},
	}
	if _, err := c.Embed(context.Background(), "hi"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if lock.locks != 1 || lock.unlocks != 1 {
		t.Fatalf("expected exactly one lock/unlock pair, got %d/%d", lock.locks, lock.unlocks)
	}
}

func TestEmbedPropagatesCallbackError(t *testing.T) {
	wantErr := errors.New("boom")
	c := &Callback{Single: func(ctx context.Context, text string) ([]float32, error) {
		return nil, wantErr
	}}
	if _, err := c.Embed(context.Background(), "x"); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped callback error, got %v", err)
	}
}
