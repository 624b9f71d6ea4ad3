package storage

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KeyStrategy selects how archive keys are made unique.
type KeyStrategy string

const (
	// StrategyBasic uses the timestamp alone; concurrent frames from one
	// user within the same nanosecond collide.
	StrategyBasic KeyStrategy = "basic"
	// StrategySequence appends a five digit rolling counter.
	StrategySequence KeyStrategy = "sequence"
	// StrategyUUID appends a short random id, for several servers sharing
	// one Redis.
	StrategyUUID KeyStrategy = "uuid"
)

const maxSequence = 99999

type KeyGeneratorConfig struct {
	Strategy  KeyStrategy
	Prefix    string
	Namespace string
}

// KeyGenerator builds archive keys of the form
// {namespace}:{prefix}:{user}:{unix_nano}[:{suffix}].
type KeyGenerator struct {
	config   KeyGeneratorConfig
	mu       sync.Mutex
	sequence uint64
}

func NewKeyGenerator(config KeyGeneratorConfig) *KeyGenerator {
	if config.Strategy == "" {
		config.Strategy = StrategySequence
	}
	if config.Namespace == "" {
		config.Namespace = "default"
	}
	return &KeyGenerator{config: config}
}

// ParseStrategy maps a configured name to a strategy, defaulting to
// StrategySequence for anything unknown.
func ParseStrategy(s string) KeyStrategy {
	switch KeyStrategy(strings.ToLower(s)) {
	case StrategyBasic:
		return StrategyBasic
	case StrategyUUID:
		return StrategyUUID
	default:
		return StrategySequence
	}
}

// SanitizeSegment makes a user id safe to embed as one key segment.
func SanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "anonymous"
	}
	return strings.NewReplacer(":", "_", "*", "_", " ", "_").Replace(s)
}

func (kg *KeyGenerator) GenerateKey(userID string, timestamp time.Time) string {
	baseKey := fmt.Sprintf("%s:%s:%s:%d",
		kg.config.Namespace,
		kg.config.Prefix,
		SanitizeSegment(userID),
		timestamp.UnixNano(),
	)

	switch kg.config.Strategy {
	case StrategySequence:
		return fmt.Sprintf("%s:%05d", baseKey, kg.nextSequence())
	case StrategyUUID:
		return fmt.Sprintf("%s:%s", baseKey, uuid.New().String()[:8])
	default:
		return baseKey
	}
}

type KeyComponents struct {
	Namespace string
	Prefix    string
	UserID    string
	Timestamp time.Time
	Suffix    string
}

// ParseKey splits a key made by GenerateKey.
func (kg *KeyGenerator) ParseKey(key string) (*KeyComponents, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 || len(parts) > 5 {
		return nil, fmt.Errorf("invalid key format: %s", key)
	}

	unixNano, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp in key: %w", err)
	}

	c := &KeyComponents{
		Namespace: parts[0],
		Prefix:    parts[1],
		UserID:    parts[2],
		Timestamp: time.Unix(0, unixNano),
	}
	if len(parts) == 5 {
		c.Suffix = parts[4]
	}
	return c, nil
}

// QueryPattern returns a SCAN pattern for one user's frames, or for every
// frame in the namespace when userID is empty. An empty namespace means the
// configured one.
func (kg *KeyGenerator) QueryPattern(userID, namespace string) string {
	if namespace == "" {
		namespace = kg.config.Namespace
	}
	if userID == "" {
		return fmt.Sprintf("%s:%s:*", namespace, kg.config.Prefix)
	}
	return fmt.Sprintf("%s:%s:%s:*", namespace, kg.config.Prefix, SanitizeSegment(userID))
}

func (kg *KeyGenerator) nextSequence() uint64 {
	kg.mu.Lock()
	defer kg.mu.Unlock()
	kg.sequence++
	if kg.sequence > maxSequence {
		kg.sequence = 1
	}
	return kg.sequence
}

func (kg *KeyGenerator) Config() KeyGeneratorConfig {
	return kg.config
}
