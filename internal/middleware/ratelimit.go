package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/normalize"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// idleTTL is how long a key may stay silent before its limiter is dropped.
const idleTTL = 10 * time.Minute

// LimiterStore keeps one token bucket per key (a phone, a peer address or
// a stream identity) and evicts buckets that went idle.
type LimiterStore struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientEntry

	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore creates a new store for per-key rate limiters.
// limitPerMinute controls allowed events per minute; burst is the burst capacity.
func NewLimiterStore(limitPerMinute int, burst int, cleanupInterval time.Duration) *LimiterStore {
	if limitPerMinute <= 0 {
		limitPerMinute = 60
	}
	return newLimiterStore(rate.Every(time.Minute/time.Duration(limitPerMinute)), burst, cleanupInterval)
}

// NewPerSecondLimiterStore is NewLimiterStore for high-frequency keys such
// as the realtime events of one identity.
func NewPerSecondLimiterStore(perSecond int, burst int, cleanupInterval time.Duration) *LimiterStore {
	if perSecond <= 0 {
		perSecond = 20
	}
	return newLimiterStore(rate.Limit(perSecond), burst, cleanupInterval)
}

func newLimiterStore(limit rate.Limit, burst int, cleanupInterval time.Duration) *LimiterStore {
	if burst < 1 {
		burst = 1
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &LimiterStore{
		limit:           limit,
		burst:           burst,
		clients:         map[string]*clientEntry{},
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *LimiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.evictIdle(now)
		case <-s.stopCh:
			return
		}
	}
}

// evictIdle drops limiters not used since now-idleTTL.
func (s *LimiterStore) evictIdle(now time.Time) int {
	cutoff := now.Add(-idleTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for k, v := range s.clients {
		if v.lastSeen.Before(cutoff) {
			delete(s.clients, k)
			evicted++
		}
	}
	return evicted
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (s *LimiterStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// getLimiter returns or creates a limiter for key
func (s *LimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.clients[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}
	limiter := rate.NewLimiter(s.limit, s.burst)
	s.clients[key] = &clientEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

// Allow checks whether an event for the given key is permitted.
func (s *LimiterStore) Allow(key string) bool {
	l := s.getLimiter(key)
	return l.Allow()
}

// RateLimitUnaryInterceptor returns a grpc.UnaryServerInterceptor that applies
// rate limiting to the supplied methods. For Register/Login we prefer to key by
// the provided phone (extracted from the request), falling back to remote IP.
func RateLimitUnaryInterceptor(store *LimiterStore, limitedMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		// Only apply to selected methods
		if !limitedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		// Try to extract remote peer IP
		key := "unknown"
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			key = p.Addr.String()
		}

		// Prefer the phone in the request body as the key to protect accounts
		if p := requestPhone(req); p != "" {
			key = fmt.Sprintf("phone:%s", p)
		}

		if !store.Allow(key) {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded")
		}

		return handler(ctx, req)
	}
}

// requestPhone pulls the "phone" field out of a request, if there is one.
func requestPhone(req interface{}) string {
	r, ok := req.(*structpb.Struct)
	if !ok {
		return ""
	}
	if v, ok := r.GetFields()["phone"]; ok {
		return normalize.Phone(v.GetStringValue())
	}
	return ""
}
