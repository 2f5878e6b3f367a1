package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryProcessor keeps intents in process. New intents start in
// requires_payment_method until SetStatus moves them on.
type MemoryProcessor struct {
	mu      sync.RWMutex
	intents map[string]Intent
}

func NewMemoryProcessor() *MemoryProcessor {
	return &MemoryProcessor{intents: make(map[string]Intent)}
}

func (p *MemoryProcessor) Name() string { return "memory" }

func (p *MemoryProcessor) CreateIntent(_ context.Context, amountCents int64, currency string, metadata map[string]string) (Intent, error) {
	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	in := Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		AmountCents:  amountCents,
		Currency:     strings.ToLower(currency),
		Status:       "requires_payment_method",
		Metadata:     metadata,
	}
	p.mu.Lock()
	p.intents[id] = in
	p.mu.Unlock()
	return in, nil
}

func (p *MemoryProcessor) RetrieveIntent(_ context.Context, id string) (Intent, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	in, ok := p.intents[id]
	if !ok {
		return Intent{}, fmt.Errorf("%w: %s", ErrIntentNotFound, id)
	}
	return in, nil
}

// SetStatus stands in for the customer completing (or failing) payment.
func (p *MemoryProcessor) SetStatus(id, status string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.intents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIntentNotFound, id)
	}
	in.Status = status
	p.intents[id] = in
	return nil
}

// Put stores an intent as given.
func (p *MemoryProcessor) Put(in Intent) {
	p.mu.Lock()
	p.intents[in.ID] = in
	p.mu.Unlock()
}
