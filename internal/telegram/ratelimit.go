package telegram

import (
	"sync"
	"time"
)

// RateLimitConfig holds per-user rate limits.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	MessagesPerMinute int  `yaml:"messages_per_minute"` // texts, photos and button presses
	VoicePerHour      int  `yaml:"voice_per_hour"`      // voice notes sent to transcription
	BurstSize         int  `yaml:"burst_size"`
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled:           true,
		MessagesPerMinute: 30,
		VoicePerHour:      60,
		BurstSize:         10,
	}
}

// RateLimiter implements per-user token bucket rate limiting
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[int64]*tokenBucket
	now     func() time.Time
	mu      sync.Mutex
}

type tokenBucket struct {
	messageTokens   float64
	voiceTokens     float64
	lastRefill      time.Time
	messageRate     float64 // tokens per second
	voiceRate       float64 // tokens per second
	maxMessageBurst int
	maxVoiceBurst   int
}

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[int64]*tokenBucket),
		now:     time.Now,
	}
}

// AllowMessage reports whether userID may send another message now.
func (r *RateLimiter) AllowMessage(userID int64) bool {
	return r.take(userID, func(b *tokenBucket) *float64 { return &b.messageTokens })
}

// AllowVoice reports whether userID may have another voice note
// transcribed now.
func (r *RateLimiter) AllowVoice(userID int64) bool {
	return r.take(userID, func(b *tokenBucket) *float64 { return &b.voiceTokens })
}

func (r *RateLimiter) take(userID int64, tokens func(*tokenBucket) *float64) bool {
	if r == nil || !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.getOrCreateBucket(userID)
	bucket.refill(r.now())

	t := tokens(bucket)
	if *t >= 1 {
		*t--
		return true
	}
	return false
}

func (r *RateLimiter) getOrCreateBucket(userID int64) *tokenBucket {
	bucket, exists := r.buckets[userID]
	if exists {
		return bucket
	}

	maxMessageBurst := r.config.MessagesPerMinute
	if r.config.BurstSize > 0 && r.config.BurstSize < maxMessageBurst {
		maxMessageBurst = r.config.BurstSize
	}
	maxVoiceBurst := r.config.VoicePerHour
	if r.config.BurstSize > 0 && r.config.BurstSize < maxVoiceBurst {
		maxVoiceBurst = r.config.BurstSize
	}

	bucket = &tokenBucket{
		messageTokens:   float64(maxMessageBurst),
		voiceTokens:     float64(maxVoiceBurst),
		lastRefill:      r.now(),
		messageRate:     float64(r.config.MessagesPerMinute) / 60.0,
		voiceRate:       float64(r.config.VoicePerHour) / 3600.0,
		maxMessageBurst: maxMessageBurst,
		maxVoiceBurst:   maxVoiceBurst,
	}
	r.buckets[userID] = bucket
	return bucket
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.messageTokens += elapsed * b.messageRate
	if b.messageTokens > float64(b.maxMessageBurst) {
		b.messageTokens = float64(b.maxMessageBurst)
	}
	b.voiceTokens += elapsed * b.voiceRate
	if b.voiceTokens > float64(b.maxVoiceBurst) {
		b.voiceTokens = float64(b.maxVoiceBurst)
	}
}

// Cleanup removes buckets idle for longer than maxAge.
func (r *RateLimiter) Cleanup(maxAge time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	for id, bucket := range r.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(r.buckets, id)
		}
	}
}
