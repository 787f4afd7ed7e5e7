package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// HeaderAPIKey is the header containing the caller's API key identifier.
	HeaderAPIKey = "X-Api-Key"
	// HeaderTimestamp is the unix timestamp (seconds) used when signing the request.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce provides replay protection when combined with the timestamp.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded HMAC-SHA256 signature for the request.
	HeaderSignature = "X-Signature"
	// MaxBodyForSignature is the maximum body size hashed when authenticating.
	MaxBodyForSignature int = 1 << 20 // 1 MiB

	defaultTimestampSkew = 2 * time.Minute
	defaultNonceTTL      = 10 * time.Minute
)

var (
	// ErrUnauthorized is returned for any failed authentication check. The
	// reason is deliberately not exposed to the caller.
	ErrUnauthorized = errors.New("auth: unauthorized")
)

// Principal represents an authenticated API client.
type Principal struct {
	APIKey string
}

// Authenticator verifies API key + HMAC signatures on incoming requests and
// rejects replayed nonces within the TTL window.
type Authenticator struct {
	secrets map[string]string
	skew    time.Duration
	ttl     time.Duration
	nowFn   func() time.Time

	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewAuthenticator builds an Authenticator keyed by the provided secrets.
// The map contains API key identifiers mapped to their shared secret.
func NewAuthenticator(secrets map[string]string, skew, ttl time.Duration, nowFn func() time.Time) *Authenticator {
	cloned := make(map[string]string, len(secrets))
	for k, v := range secrets {
		cloned[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew <= 0 {
		skew = defaultTimestampSkew
	}
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	return &Authenticator{
		secrets: cloned,
		skew:    skew,
		ttl:     ttl,
		nowFn:   nowFn,
		nonces:  make(map[string]time.Time),
	}
}

// Authenticate validates the signature headers on the request. The request
// body is read (up to MaxBodyForSignature) and restored for the handler.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, []byte, error) {
	apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	timestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	signature := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if apiKey == "" || timestamp == "" || nonce == "" || signature == "" {
		return Principal{}, nil, ErrUnauthorized
	}
	secret, ok := a.secrets[apiKey]
	if !ok {
		return Principal{}, nil, ErrUnauthorized
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return Principal{}, nil, ErrUnauthorized
	}
	now := a.nowFn()
	drift := now.Sub(time.Unix(ts, 0))
	if drift < -a.skew || drift > a.skew {
		return Principal{}, nil, ErrUnauthorized
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, int64(MaxBodyForSignature)+1))
		if err != nil || len(body) > MaxBodyForSignature {
			return Principal{}, nil, ErrUnauthorized
		}
	}

	expected := ComputeSignature(secret, timestamp, nonce, r.Method, r.URL.Path, body)
	provided, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(expected, provided) {
		return Principal{}, nil, ErrUnauthorized
	}
	if !a.recordNonce(apiKey, nonce, now) {
		return Principal{}, nil, ErrUnauthorized
	}
	return Principal{APIKey: apiKey}, body, nil
}

// recordNonce registers a nonce, rejecting reuse inside the TTL window.
func (a *Authenticator) recordNonce(apiKey, nonce string, now time.Time) bool {
	key := apiKey + "\x00" + nonce
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, seen := range a.nonces {
		if now.Sub(seen) > a.ttl {
			delete(a.nonces, k)
		}
	}
	if _, used := a.nonces[key]; used {
		return false
	}
	a.nonces[key] = now
	return true
}

// ComputeSignature derives the canonical request signature:
// HMAC-SHA256(secret, timestamp \n nonce \n METHOD \n path \n body).
func ComputeSignature(secret, timestamp, nonce, method, path string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s\n", timestamp, nonce, strings.ToUpper(method), path)
	mac.Write(body)
	return mac.Sum(nil)
}
