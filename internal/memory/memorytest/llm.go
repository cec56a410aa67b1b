package memorytest

import (
	"context"
	"errors"
	"sync"

	"github.com/flemzord/memsync/internal/memory"
)

// ErrNoResponse is returned by LLM when its response queue is empty.
var ErrNoResponse = errors.New("memorytest: no scripted response")

// LLM replays scripted responses in order, or delegates to GenerateFunc.
type LLM struct {
	calls

	GenerateFunc func(ctx context.Context, msgs []memory.Message, format memory.ResponseFormat) (string, error)

	mu        sync.Mutex
	Responses []string
	Prompts   [][]memory.Message
}

// Compile-time interface check.
var _ memory.LLM = (*LLM)(nil)

func (l *LLM) GenerateResponse(ctx context.Context, msgs []memory.Message, format memory.ResponseFormat) (string, error) {
	if err := l.enter("GenerateResponse"); err != nil {
		return "", err
	}
	l.mu.Lock()
	l.Prompts = append(l.Prompts, msgs)
	if l.GenerateFunc != nil {
		fn := l.GenerateFunc
		l.mu.Unlock()
		return fn(ctx, msgs, format)
	}
	defer l.mu.Unlock()
	if len(l.Responses) == 0 {
		return "", ErrNoResponse
	}
	resp := l.Responses[0]
	l.Responses = l.Responses[1:]
	return resp, nil
}
