package notifications

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"readaddicts/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	defaultOnlineSetKey      = "ws:online_users"
	defaultLastSeenKeyPrefix = "ws:last_seen:"
	defaultLastSeenTTL       = 90 * time.Second
	defaultOfflineGrace      = 5 * time.Second
	defaultReaperInterval    = 60 * time.Second
)

// PresenceConfig controls Redis presence and cleanup behavior.
type PresenceConfig struct {
	OnlineSetKey       string
	LastSeenKeyPrefix  string
	LastSeenTTL        time.Duration
	OfflineGracePeriod time.Duration
	ReaperInterval     time.Duration
}

// Presence tracks which users hold a websocket connection. Local connection
// counts are authoritative for this instance; Redis mirrors them so other
// instances (and recent-chat listings) see the same state. A user going
// offline is only reported after the grace period, so quick reconnects do
// not flap.
type Presence struct {
	rdb *redis.Client

	mu              sync.RWMutex
	localConnCounts map[string]int
	offlineTimers   map[string]*time.Timer
	offlineNotified map[string]bool

	onlineSetKey      string
	lastSeenKeyPrefix string
	lastSeenTTL       time.Duration
	offlineGrace      time.Duration
	reaperInterval    time.Duration

	onUserOnline  func(userID string)
	onUserOffline func(userID string)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPresence creates a tracker and starts the Redis reaper when Redis is available.
func NewPresence(rdb *redis.Client, cfg PresenceConfig) *Presence {
	p := &Presence{
		rdb:               rdb,
		localConnCounts:   make(map[string]int),
		offlineTimers:     make(map[string]*time.Timer),
		offlineNotified:   make(map[string]bool),
		onlineSetKey:      defaultOnlineSetKey,
		lastSeenKeyPrefix: defaultLastSeenKeyPrefix,
		lastSeenTTL:       defaultLastSeenTTL,
		offlineGrace:      defaultOfflineGrace,
		reaperInterval:    defaultReaperInterval,
		stopCh:            make(chan struct{}),
	}
	if cfg.OnlineSetKey != "" {
		p.onlineSetKey = cfg.OnlineSetKey
	}
	if cfg.LastSeenKeyPrefix != "" {
		p.lastSeenKeyPrefix = cfg.LastSeenKeyPrefix
	}
	if cfg.LastSeenTTL > 0 {
		p.lastSeenTTL = cfg.LastSeenTTL
	}
	if cfg.OfflineGracePeriod > 0 {
		p.offlineGrace = cfg.OfflineGracePeriod
	}
	if cfg.ReaperInterval > 0 {
		p.reaperInterval = cfg.ReaperInterval
	}

	if p.rdb != nil {
		go p.reaperLoop()
	}
	return p
}

// SetCallbacks installs online/offline transition hooks.
func (p *Presence) SetCallbacks(onOnline, onOffline func(userID string)) {
	p.mu.Lock()
	p.onUserOnline = onOnline
	p.onUserOffline = onOffline
	p.mu.Unlock()
}

func (p *Presence) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.mu.Lock()
		for userID, timer := range p.offlineTimers {
			timer.Stop()
			delete(p.offlineTimers, userID)
		}
		p.mu.Unlock()
	})
}

// Register records one more local connection for userID.
func (p *Presence) Register(ctx context.Context, userID string) {
	wasOnline := p.IsOnline(ctx, userID)

	p.mu.Lock()
	if t, ok := p.offlineTimers[userID]; ok {
		// Reconnected inside the grace period: offline was never reported.
		t.Stop()
		delete(p.offlineTimers, userID)
		wasOnline = true
	}
	p.localConnCounts[userID]++
	p.offlineNotified[userID] = false
	p.mu.Unlock()

	p.Touch(ctx, userID)
	if !wasOnline {
		p.emit(userID, true)
	}
}

// Touch refreshes the user's last-seen marker in Redis.
func (p *Presence) Touch(ctx context.Context, userID string) {
	if p.rdb == nil {
		return
	}
	pipe := p.rdb.TxPipeline()
	pipe.SAdd(ctx, p.onlineSetKey, userID)
	pipe.SetEx(ctx, p.lastSeenKey(userID), strconv.FormatInt(time.Now().Unix(), 10), p.lastSeenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "presence touch failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// Unregister drops one local connection. When the last one goes the user is
// reported offline after the grace period unless they reconnect first.
func (p *Presence) Unregister(ctx context.Context, userID string) {
	p.mu.Lock()
	if n := p.localConnCounts[userID]; n > 1 {
		p.localConnCounts[userID] = n - 1
		p.mu.Unlock()
		return
	}
	delete(p.localConnCounts, userID)

	if t, ok := p.offlineTimers[userID]; ok {
		t.Stop()
	}
	p.offlineTimers[userID] = time.AfterFunc(p.offlineGrace, func() {
		p.finalizeOffline(context.Background(), userID)
	})
	p.mu.Unlock()

	// Drop the marker now so finalizeOffline only waits on connections other
	// instances still refresh.
	if p.rdb != nil {
		if err := p.rdb.Del(ctx, p.lastSeenKey(userID)).Err(); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "presence clear failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		p.mu.RLock()
		reconnected := p.localConnCounts[userID] > 0
		p.mu.RUnlock()
		if reconnected {
			p.Touch(ctx, userID)
		}
	}
}

// IsOnline reports whether userID has a connection here or a live marker in Redis.
func (p *Presence) IsOnline(ctx context.Context, userID string) bool {
	p.mu.RLock()
	local := p.localConnCounts[userID] > 0
	p.mu.RUnlock()
	if local {
		return true
	}
	if p.rdb == nil {
		return false
	}
	exists, err := p.rdb.Exists(ctx, p.lastSeenKey(userID)).Result()
	return err == nil && exists > 0
}

// reapOnce removes set members whose last-seen marker expired.
func (p *Presence) reapOnce(ctx context.Context) {
	if p.rdb == nil {
		return
	}
	members, err := p.rdb.SMembers(ctx, p.onlineSetKey).Result()
	if err != nil {
		return
	}

	for _, userID := range members {
		exists, err := p.rdb.Exists(ctx, p.lastSeenKey(userID)).Result()
		if err != nil || exists > 0 {
			continue
		}
		_ = p.rdb.SRem(ctx, p.onlineSetKey, userID).Err()

		p.mu.RLock()
		hasLocal := p.localConnCounts[userID] > 0
		p.mu.RUnlock()
		if !hasLocal {
			p.emit(userID, false)
		}
	}
}

func (p *Presence) reaperLoop() {
	ticker := time.NewTicker(p.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapOnce(context.Background())
		}
	}
}

func (p *Presence) finalizeOffline(ctx context.Context, userID string) {
	p.mu.Lock()
	delete(p.offlineTimers, userID)
	hasLocal := p.localConnCounts[userID] > 0
	p.mu.Unlock()
	if hasLocal {
		return
	}

	if p.rdb != nil {
		// Another instance may still hold a connection for this user.
		if exists, err := p.rdb.Exists(ctx, p.lastSeenKey(userID)).Result(); err == nil && exists > 0 {
			return
		}
		_ = p.rdb.SRem(ctx, p.onlineSetKey, userID).Err()
	}

	p.emit(userID, false)
}

func (p *Presence) emit(userID string, online bool) {
	p.mu.Lock()
	if !online {
		if p.offlineNotified[userID] {
			p.mu.Unlock()
			return
		}
		p.offlineNotified[userID] = true
	}
	cb := p.onUserOffline
	if online {
		cb = p.onUserOnline
	}
	p.mu.Unlock()

	if cb != nil {
		cb(userID)
	}
}

func (p *Presence) lastSeenKey(userID string) string {
	return p.lastSeenKeyPrefix + userID
}
