// Package embedder adapts a caller-supplied embedding function into
// the shape engine.Table needs, and guards it with an optional
// host-runtime lock. A host embedding an interpreter with its own
// global lock can plug that lock in here; a pure-Go host has no such
// requirement, so the default lock is a no-op.
package embedder

import (
	"context"
	"fmt"

	"github.com/foglet-ai/chatmem/pkg/errs"
)

// Single embeds one piece of text.
type Single func(ctx context.Context, text string) ([]float32, error)

// Batch embeds many texts at once, returning their vectors
// concatenated in input order (len(texts)*dim floats total), matching
// the host callback contract.
type Batch func(ctx context.Context, texts []string) ([]float32, error)

// HostLock is acquired only around the user-supplied callback
// invocation and released as soon as it returns, so it is never held
// while the relational store or ANN index is being written.
type HostLock interface {
	Lock()
	Unlock()
}

type nopLock struct{}

func (nopLock) Lock()   {}
func (nopLock) Unlock() {}

// NopLock is the default HostLock: no coordination needed.
var NopLock HostLock = nopLock{}

// Callback bundles the embedding functions a Table is constructed
// with. Single is required; Batch is optional and preferred for
// adds() when present.
type Callback struct {
	Single Single
	Batch  Batch
	Lock   HostLock
}

func (c *Callback) hostLock() HostLock {
	if c.Lock != nil {
		return c.Lock
	}
	return NopLock
}

// Embed runs the single-text callback under the host lock.
func (c *Callback) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.Single == nil {
		return nil, errs.New(errs.BadFunctionCall, "embedder.Embed", fmt.Errorf("no embedding callback configured"))
	}
	lock := c.hostLock()
	lock.Lock()
	defer lock.Unlock()
	return c.Single(ctx, text)
}

// EmbedBatch embeds n texts, preferring Batch when configured and
// falling back to n sequential Single calls otherwise.
func (c *Callback) EmbedBatch(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.Batch != nil {
		lock := c.hostLock()
		lock.Lock()
		flat, err := c.Batch(ctx, texts)
		lock.Unlock()
		if err != nil {
			return nil, err
		}
		return splitFlat(flat, dim, len(texts))
	}
	if c.Single == nil {
		return nil, errs.New(errs.BadFunctionCall, "embedder.EmbedBatch", fmt.Errorf("no embedding callback configured"))
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// splitFlat divides a concatenated vector into n equal slices of dim
// floats, the inverse of how Batch's result is produced.
func splitFlat(flat []float32, dim, n int) ([][]float32, error) {
	if dim <= 0 {
		return nil, errs.New(errs.InvalidArgument, "embedder.splitFlat", fmt.Errorf("vector_dimension must be > 0"))
	}
	if len(flat) != dim*n {
		return nil, errs.New(errs.LengthError, "embedder.splitFlat",
			fmt.Errorf("batch callback returned %d floats, expected %d (%d texts x %d dims)", len(flat), dim*n, n, dim))
	}
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		copy(v, flat[i*dim:(i+1)*dim])
		out[i] = v
	}
	return out, nil
}
