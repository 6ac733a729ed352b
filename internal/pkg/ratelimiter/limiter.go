// Package ratelimiter implementa contagem por janela fixa para a API.
package ratelimiter

import (
	"context"
	"time"
)

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Build monta o Result a partir da contagem atual da janela.
func Build(count int64, limit int, resetAfter time.Duration, now time.Time) *Result {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	res := &Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		Reset:     now.Add(resetAfter),
	}
	if !res.Allowed {
		res.RetryAfter = resetAfter
	}
	return res
}
