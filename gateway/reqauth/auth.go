// Package reqauth authenticates calls to the external coordination API
// (nonce acquire/release/invalidate/status) with per-client HMAC-SHA256
// request signing plus a replay-nonce window.
//
// The nonce here is an HTTP replay nonce: a value the caller invents once
// per request to stop a captured request from being resent. It has nothing
// to do with the on-chain transaction nonce the gateway coordinates in
// internal/coordination — the two live in different packages under
// different names specifically so they are never confused in code.
package reqauth

import (
	"container/list"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// authRejectionsTotal counts requests rejected by the authenticator, broken
// down by the reason category, mirroring gateway/routes/gwerror.go's
// errorKindTotal counter for the connector-facing side of the gateway.
var authRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "reqauth_rejections_total",
	Help:      "Total coordination API requests rejected by the HMAC authenticator, labeled by reason.",
}, []string{"reason"})

// MetricsCollector exposes authRejectionsTotal for registration on the
// shared observability registry.
func MetricsCollector() prometheus.Collector { return authRejectionsTotal }

const (
	// HeaderAPIKey identifies the calling client.
	HeaderAPIKey = "X-Api-Key"
	// HeaderTimestamp is the unix timestamp (seconds) covered by the signature.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce is the caller-chosen replay-protection value.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded HMAC-SHA256 signature.
	HeaderSignature = "X-Signature"
	// MaxBodyForSignature bounds how much body we will hash.
	MaxBodyForSignature int = 1 << 20 // 1 MiB

	maxAllowedTimestampSkew = 2 * time.Minute
	defaultTimestampSkew    = maxAllowedTimestampSkew
	maxNonceWindow          = 10 * time.Minute
	defaultNonceWindow      = maxNonceWindow
	defaultNonceCapacity    = 4096
	maxNonceCapacity        = 65536

	persistencePruneInterval = time.Minute
)

// Principal is an authenticated caller of the coordination API.
type Principal struct {
	APIKey string
}

// NonceRecord is a persisted replay-nonce usage record. Family is the chain
// family segment of the nonce route the request targeted
// (/chains/{family}/nonce/...); replay protection is scoped per family so a
// key permitted on more than one family can't have a nonce it spent against
// one family's lease rejected as a replay against another's.
type NonceRecord struct {
	APIKey     string
	Family     string
	Timestamp  string
	Nonce      string
	ObservedAt time.Time
}

// NoncePersistence gives the replay-nonce window a durable backend, so a
// process restart cannot be used to replay a request the previous process
// already rejected.
type NoncePersistence interface {
	EnsureNonce(ctx context.Context, record NonceRecord) (bool, error)
	RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// Authenticator verifies API key + HMAC signatures on incoming requests.
type Authenticator struct {
	secrets              map[string]string
	familyScopes         map[string]map[string]struct{}
	allowedTimestampSkew time.Duration
	nonceTTL             time.Duration
	nonceCapacity        int
	nowFn                func() time.Time

	nonceMu sync.Mutex
	nonces  map[string]*nonceStore

	lastSeenMu sync.Mutex
	lastSeen   map[string]int64

	persistence NoncePersistence
	lastPruned  time.Time
}

// NewAuthenticator builds an Authenticator keyed by API key -> shared
// secret. familyScopes optionally restricts an API key to the listed chain
// families' nonce routes; a key absent from familyScopes (or with an empty
// list) is unrestricted.
func NewAuthenticator(secrets map[string]string, familyScopes map[string][]string, skew, nonceTTL time.Duration, nonceCapacity int, nowFn func() time.Time, persistence NoncePersistence) *Authenticator {
	cloned := make(map[string]string, len(secrets))
	for k, v := range secrets {
		cloned[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	scopes := make(map[string]map[string]struct{}, len(familyScopes))
	for k, families := range familyScopes {
		if len(families) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(families))
		for _, f := range families {
			set[strings.TrimSpace(f)] = struct{}{}
		}
		scopes[strings.TrimSpace(k)] = set
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew <= 0 {
		skew = defaultTimestampSkew
	}
	if skew > maxAllowedTimestampSkew {
		skew = maxAllowedTimestampSkew
	}
	if nonceTTL <= 0 {
		nonceTTL = defaultNonceWindow
	}
	if nonceTTL > maxNonceWindow {
		nonceTTL = maxNonceWindow
	}
	if nonceCapacity <= 0 {
		nonceCapacity = defaultNonceCapacity
	}
	if nonceCapacity > maxNonceCapacity {
		nonceCapacity = maxNonceCapacity
	}
	return &Authenticator{
		secrets:              cloned,
		familyScopes:         scopes,
		allowedTimestampSkew: skew,
		nonceTTL:             nonceTTL,
		nonceCapacity:        nonceCapacity,
		nowFn:                nowFn,
		nonces:               make(map[string]*nonceStore),
		lastSeen:             make(map[string]int64),
		persistence:          persistence,
	}
}

// Authenticate validates headers and signature, returning the caller principal.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (*Principal, error) {
	if len(body) > MaxBodyForSignature {
		authRejectionsTotal.WithLabelValues("body_too_large").Inc()
		return nil, fmt.Errorf("request body exceeds %d bytes", MaxBodyForSignature)
	}
	apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if apiKey == "" {
		authRejectionsTotal.WithLabelValues("missing_api_key").Inc()
		return nil, errors.New("missing X-Api-Key header")
	}
	secret, ok := a.secrets[apiKey]
	if !ok || secret == "" {
		authRejectionsTotal.WithLabelValues("unknown_api_key").Inc()
		return nil, errors.New("unknown API key")
	}
	if scope, scoped := a.familyScopes[apiKey]; scoped {
		family := chi.URLParam(r, "family")
		if _, allowed := scope[family]; !allowed {
			authRejectionsTotal.WithLabelValues("family_not_permitted").Inc()
			return nil, fmt.Errorf("API key %q is not permitted for chain family %q", apiKey, family)
		}
	}
	timestampHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if timestampHeader == "" {
		authRejectionsTotal.WithLabelValues("missing_timestamp").Inc()
		return nil, errors.New("missing X-Timestamp header")
	}
	ts, err := parseUnixTimestamp(timestampHeader)
	if err != nil {
		authRejectionsTotal.WithLabelValues("invalid_timestamp").Inc()
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	now := a.nowFn().UTC()
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if a.allowedTimestampSkew > 0 && skew > a.allowedTimestampSkew {
		authRejectionsTotal.WithLabelValues("timestamp_skew").Inc()
		return nil, fmt.Errorf("timestamp outside allowed skew of %s", a.allowedTimestampSkew)
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" {
		authRejectionsTotal.WithLabelValues("missing_nonce").Inc()
		return nil, errors.New("missing X-Nonce header")
	}
	providedSig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if providedSig == "" {
		authRejectionsTotal.WithLabelValues("missing_signature").Inc()
		return nil, errors.New("missing X-Signature header")
	}
	expected := ComputeSignature(secret, timestampHeader, nonce, r.Method, CanonicalRequestPath(r), body)
	providedBytes, err := hex.DecodeString(providedSig)
	if err != nil {
		authRejectionsTotal.WithLabelValues("invalid_signature_encoding").Inc()
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !hmac.Equal(providedBytes, expected) {
		authRejectionsTotal.WithLabelValues("invalid_signature").Inc()
		return nil, errors.New("invalid signature")
	}
	family := chi.URLParam(r, "family")
	duplicate, err := a.registerNonce(r.Context(), apiKey, family, timestampHeader, nonce, now)
	if err != nil {
		authRejectionsTotal.WithLabelValues("nonce_persistence_error").Inc()
		return nil, err
	}
	if duplicate {
		authRejectionsTotal.WithLabelValues("nonce_replay").Inc()
		return nil, errors.New("nonce already used")
	}
	if a.isTimestampReplay(apiKey+"|"+family, ts, now) {
		authRejectionsTotal.WithLabelValues("timestamp_replay").Inc()
		return nil, errors.New("timestamp not increasing")
	}
	return &Principal{APIKey: apiKey}, nil
}

// HydrateNonces warms the in-memory replay window from persisted records,
// used on startup so a restart does not reopen a replay window an operator
// already closed.
func (a *Authenticator) HydrateNonces(ctx context.Context, cutoff time.Time) error {
	if a == nil || a.persistence == nil {
		return nil
	}
	records, err := a.persistence.RecentNonces(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load persistent nonces: %w", err)
	}
	for _, rec := range records {
		if strings.TrimSpace(rec.APIKey) == "" || strings.TrimSpace(rec.Timestamp) == "" || strings.TrimSpace(rec.Nonce) == "" {
			continue
		}
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = cutoff
		}
		store := a.nonceStore(rec.APIKey)
		store.Add(nonceComposite(rec.Family, rec.Timestamp, rec.Nonce), observed)
	}
	return nil
}

func nonceComposite(family, timestamp, nonce string) string {
	return family + "|" + timestamp + "|" + nonce
}

func (a *Authenticator) registerNonce(ctx context.Context, apiKey, family, timestamp, nonce string, now time.Time) (bool, error) {
	cache := a.nonceStore(apiKey)
	composite := nonceComposite(family, timestamp, nonce)
	if cache.Contains(composite, now) {
		return true, nil
	}
	if a.persistence != nil {
		if err := a.prunePersistent(ctx, now); err != nil {
			return false, err
		}
		record := NonceRecord{APIKey: apiKey, Family: family, Timestamp: timestamp, Nonce: nonce, ObservedAt: now}
		existed, err := a.persistence.EnsureNonce(ctx, record)
		if err != nil {
			return false, fmt.Errorf("persist nonce: %w", err)
		}
		if existed {
			cache.Add(composite, now)
			return true, nil
		}
	}
	cache.Add(composite, now)
	return false, nil
}

func (a *Authenticator) prunePersistent(ctx context.Context, now time.Time) error {
	if a.persistence == nil || a.nonceTTL <= 0 {
		return nil
	}
	cutoff := now.Add(-a.nonceTTL)
	if a.lastPruned.IsZero() || now.Sub(a.lastPruned) >= persistencePruneInterval {
		if err := a.persistence.PruneNonces(ctx, cutoff); err != nil {
			return fmt.Errorf("prune persistent nonces: %w", err)
		}
		a.lastPruned = now
	}
	return nil
}

func (a *Authenticator) isTimestampReplay(apiKey string, ts, now time.Time) bool {
	if a.allowedTimestampSkew <= 0 {
		return false
	}
	cutoff := now.Add(-a.allowedTimestampSkew)
	current := ts.Unix()

	a.lastSeenMu.Lock()
	defer a.lastSeenMu.Unlock()

	last, ok := a.lastSeen[apiKey]
	if ok {
		lastTime := time.Unix(last, 0).UTC()
		if lastTime.After(cutoff) {
			if current <= last {
				return true
			}
		} else {
			delete(a.lastSeen, apiKey)
			ok = false
		}
	}
	if !ok || current > last {
		a.lastSeen[apiKey] = current
	}
	return false
}

func (a *Authenticator) nonceStore(apiKey string) *nonceStore {
	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	cache, ok := a.nonces[apiKey]
	if ok {
		return cache
	}
	cache = newNonceStore(a.nonceTTL, a.nonceCapacity)
	a.nonces[apiKey] = cache
	return cache
}

// CanonicalRequestPath normalizes the path plus sorted query for signing.
func CanonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + CanonicalQuery(r.URL.RawQuery)
	}
	return path
}

// CanonicalQuery sorts a raw query string's key=value pairs for stable signing.
func CanonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// ComputeSignature builds the HMAC-SHA256 signature bytes for a request.
func ComputeSignature(secret, timestamp, nonce, method, path string, body []byte) []byte {
	payload := strings.Join([]string{timestamp, nonce, strings.ToUpper(method), path, string(body)}, "\n")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func parseUnixTimestamp(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

type nonceStore struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type nonceEntry struct {
	key string
	ts  time.Time
}

func newNonceStore(ttl time.Duration, capacity int) *nonceStore {
	if ttl <= 0 {
		ttl = defaultNonceWindow
	}
	if ttl > maxNonceWindow {
		ttl = maxNonceWindow
	}
	if capacity <= 0 {
		capacity = defaultNonceCapacity
	}
	if capacity > maxNonceCapacity {
		capacity = maxNonceCapacity
	}
	return &nonceStore{ttl: ttl, capacity: capacity, entries: make(map[string]*list.Element), order: list.New()}
}

// Contains reports whether the nonce has been observed, without inserting it.
func (n *nonceStore) Contains(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	_, exists := n.entries[key]
	return exists
}

// Add registers a nonce, applying TTL and capacity eviction as needed.
func (n *nonceStore) Add(key string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	n.insertLocked(key, now)
}

func (n *nonceStore) insertLocked(key string, now time.Time) {
	if elem, exists := n.entries[key]; exists {
		elem.Value = nonceEntry{key: key, ts: now}
		n.order.MoveToBack(elem)
		return
	}
	if n.capacity > 0 {
		for n.order.Len() >= n.capacity {
			n.evictFront()
		}
	}
	elem := n.order.PushBack(nonceEntry{key: key, ts: now})
	n.entries[key] = elem
}

func (n *nonceStore) evictExpired(cutoff time.Time) {
	for {
		front := n.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(nonceEntry)
		if !entry.ts.Before(cutoff) {
			return
		}
		n.order.Remove(front)
		delete(n.entries, entry.key)
	}
}

func (n *nonceStore) evictFront() {
	front := n.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(nonceEntry)
	n.order.Remove(front)
	delete(n.entries, entry.key)
}
