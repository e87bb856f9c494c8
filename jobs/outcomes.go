package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
)

// ErrOutcomeNotFound is returned when no follow-up has finished for a sale.
var ErrOutcomeNotFound = errors.New("jobs: outcome not found")

const (
	ResultSettled   = "settled"
	ResultAbandoned = "abandoned"
)

// DocumentOutcome is the last word of the follow-up job on a sale.
type DocumentOutcome struct {
	SaleID         string         `json:"saleId"`
	Result         string         `json:"result"`
	Status         pos.SaleStatus `json:"status,omitempty"`
	DocumentNumber string         `json:"documentNumber,omitempty"`
	Documents      int            `json:"documents"`
	Message        string         `json:"message,omitempty"`
	Attempts       int            `json:"attempts"`
	RecordedAt     time.Time      `json:"recordedAt"`
}

// OutcomeStore persists follow-up outcomes.
type OutcomeStore interface {
	Record(ctx context.Context, outcome DocumentOutcome) error
	Lookup(ctx context.Context, saleID string) (DocumentOutcome, error)
}

// RedisOutcomeStore keeps outcomes as JSON values with a TTL.
type RedisOutcomeStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisOutcomeStore builds a store. Zero ttl keeps outcomes for a week.
func NewRedisOutcomeStore(client *redis.Client, prefix string, ttl time.Duration) *RedisOutcomeStore {
	if prefix == "" {
		prefix = "pos"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisOutcomeStore{client: client, prefix: prefix, ttl: ttl}
}

// Record stores the outcome, replacing any previous one.
func (s *RedisOutcomeStore) Record(ctx context.Context, outcome DocumentOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(outcome.SaleID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("jobs: record outcome %s: %w", outcome.SaleID, err)
	}
	return nil
}

// Lookup loads the outcome recorded for saleID.
func (s *RedisOutcomeStore) Lookup(ctx context.Context, saleID string) (DocumentOutcome, error) {
	payload, err := s.client.Get(ctx, s.key(saleID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return DocumentOutcome{}, ErrOutcomeNotFound
		}
		return DocumentOutcome{}, fmt.Errorf("jobs: lookup outcome %s: %w", saleID, err)
	}
	var outcome DocumentOutcome
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return DocumentOutcome{}, err
	}
	return outcome, nil
}

func (s *RedisOutcomeStore) key(saleID string) string {
	return s.prefix + ":sale_documents:" + saleID
}
