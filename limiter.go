/*
File: limiter.go
Version: 1.5.0
Description: Per-client request rate limiting with token buckets plus global
             load shedding. Small overruns are paced with a short delay;
             floods and overload are dropped.
*/

package main

import (
	"context"
	"fmt"
	"hash/maphash"
	"net"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type LimitAction int

const (
	ActionAllow LimitAction = iota
	ActionDelay
	ActionDrop
)

func (a LimitAction) String() string {
	switch a {
	case ActionAllow:
		return "ALLOW"
	case ActionDelay:
		return "DELAY"
	case ActionDrop:
		return "DROP"
	default:
		return "UNKNOWN"
	}
}

const (
	limitShardCount = 256
	// maxPacingDelay is the longest a request may be held to absorb a burst;
	// a client needing more than this gets dropped.
	maxPacingDelay = 1 * time.Second
)

var GlobalLimiter *LimiterManager

type clientBucket struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

type limiterShard struct {
	sync.RWMutex
	buckets map[string]*clientBucket
}

type LimiterManager struct {
	shards   [limitShardCount]*limiterShard
	config   *RateLimitConfig
	enabled  bool
	hasher   maphash.Hash
	hasherMu sync.Mutex
}

func InitLimiter(cfg RateLimitConfig) {
	GlobalLimiter = &LimiterManager{
		config:  &cfg,
		enabled: cfg.Enabled,
	}
	for i := 0; i < limitShardCount; i++ {
		GlobalLimiter.shards[i] = &limiterShard{
			buckets: make(map[string]*clientBucket),
		}
	}
}

// StartCleanupRoutine evicts buckets for clients that went quiet, until ctx
// is cancelled.
func (lm *LimiterManager) StartCleanupRoutine(ctx context.Context) {
	if !lm.enabled {
		return
	}

	interval := lm.config.parsedCleanupInterval
	if interval == 0 {
		interval = 1 * time.Minute
	}

	LogInfo("[RATE] Bucket cleanup every %v", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			LogInfo("[RATE] Bucket cleanup stopped")
			return
		case <-ticker.C:
			lm.cleanup()
		}
	}
}

func (lm *LimiterManager) cleanup() {
	expiration := lm.config.parsedClientExpiration
	if expiration == 0 {
		expiration = 5 * time.Minute
	}
	now := time.Now()
	evicted := 0

	for _, shard := range lm.shards {
		shard.Lock()
		for ip, cb := range shard.buckets {
			if now.Sub(cb.lastSeen) > expiration {
				delete(shard.buckets, ip)
				evicted++
			}
		}
		shard.Unlock()
	}

	if evicted > 0 {
		LogDebug("[RATE] Evicted %d quiet client buckets", evicted)
	}
}

func (lm *LimiterManager) getShard(key string) *limiterShard {
	lm.hasherMu.Lock()
	lm.hasher.Reset()
	lm.hasher.WriteString(key)
	hash := lm.hasher.Sum64()
	lm.hasherMu.Unlock()
	return lm.shards[hash&(limitShardCount-1)]
}

// Check evaluates a request against process load and the client's bucket.
// Returns the action, how long to pace for when delaying, and a log reason.
func (lm *LimiterManager) Check(clientIP net.IP) (LimitAction, time.Duration, string) {
	if !lm.enabled {
		return ActionAllow, 0, ""
	}

	// The live goroutine count doubles as the load signal: at the hard cap
	// requests are shed outright, between the caps they are paced with a
	// delay that grows with the overshoot.
	active := runtime.NumGoroutine()

	if active >= lm.config.HardMaxGoroutines {
		reason := fmt.Sprintf("shedding load: %d goroutines at hard cap %d", active, lm.config.HardMaxGoroutines)
		return ActionDrop, 0, reason
	}

	if active > lm.config.MaxGoroutines {
		spread := float64(lm.config.HardMaxGoroutines - lm.config.MaxGoroutines)
		overshoot := float64(active - lm.config.MaxGoroutines)
		ratio := overshoot / spread
		if ratio > 1.0 {
			ratio = 1.0
		}

		base := float64(lm.config.parsedBaseDelay.Nanoseconds())
		max := float64(lm.config.parsedMaxDelay.Nanoseconds())
		delay := time.Duration(base + (max-base)*ratio)

		reason := fmt.Sprintf("pacing under load: %d goroutines over soft cap %d (overshoot %.2f)", active, lm.config.MaxGoroutines, ratio)
		return ActionDelay, delay, reason
	}

	if clientIP == nil {
		return ActionAllow, 0, ""
	}

	ipStr := clientIP.String()
	shard := lm.getShard(ipStr)

	shard.Lock()
	cb, exists := shard.buckets[ipStr]
	if !exists {
		cb = &clientBucket{
			bucket: rate.NewLimiter(rate.Limit(lm.config.ClientQPS), lm.config.ClientBurst),
		}
		shard.buckets[ipStr] = cb
	}
	cb.lastSeen = time.Now()

	reservation := cb.bucket.Reserve()
	shard.Unlock()

	if !reservation.OK() {
		return ActionDrop, 0, fmt.Sprintf("client %s has no usable bucket reservation", ipStr)
	}

	delay := reservation.Delay()
	if delay == 0 {
		return ActionAllow, 0, ""
	}

	if delay <= maxPacingDelay {
		return ActionDelay, delay, fmt.Sprintf("pacing client %s for %v", ipStr, delay)
	}

	reservation.Cancel()

	var tokens float64
	if IsDebugEnabled() {
		tokens = cb.bucket.Tokens()
	}

	reason := fmt.Sprintf("dropping client %s: conforming would take %v (cap %v, tokens %.2f)",
		ipStr, delay, maxPacingDelay, tokens)
	return ActionDrop, 0, reason
}
