// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

// Package authtest provides in-memory repositories and fakes for testing
// code built on the auth package.
package authtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/theranote/theranote/internal/auth"
)

var (
	_ auth.IdentityRepository        = (*IdentityStore)(nil)
	_ auth.PasswordHistoryRepository = (*IdentityStore)(nil)
	_ auth.FailureRepository         = (*FailureStore)(nil)
	_ auth.TokenRepository           = (*TokenStore)(nil)
	_ auth.RefreshTokenRepository    = (*RefreshStore)(nil)
	_ auth.AuditRepository           = (*AuditRecorder)(nil)
	_ auth.AuditLogger               = (*AuditRecorder)(nil)
	_ auth.PasswordHasher            = (*FakeHasher)(nil)
)

// Clock is a settable clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// IdentityStore is an in-memory IdentityRepository that also keeps
// password history.
type IdentityStore struct {
	mu         sync.Mutex
	identities map[ulid.ULID]*auth.Identity
	history    map[ulid.ULID][]auth.PasswordHistoryEntry
	// Err, when set, is returned by every method.
	Err error
}

// NewIdentityStore creates an empty IdentityStore.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		identities: make(map[ulid.ULID]*auth.Identity),
		history:    make(map[ulid.ULID][]auth.PasswordHistoryEntry),
	}
}

// Create stores a copy of identity and its first history entry.
func (s *IdentityStore) Create(_ context.Context, identity *auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, existing := range s.identities {
		if existing.Email == identity.Email {
			return auth.ErrDuplicateEmail
		}
		if identity.License.Number != "" &&
			existing.License.Number == identity.License.Number &&
			existing.License.State == identity.License.State {
			return auth.ErrDuplicateLicense
		}
	}
	cp := *identity
	s.identities[identity.ID] = &cp
	s.appendHistory(identity.ID, identity.PasswordHash, identity.PasswordChangedAt, auth.DefaultHistoryDepth)
	return nil
}

// GetByID returns a copy of the identity.
func (s *IdentityStore) GetByID(_ context.Context, id ulid.ULID) (*auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	ident, ok := s.identities[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

// GetByEmail returns a copy of the identity with a matching email.
func (s *IdentityStore) GetByEmail(_ context.Context, email string) (*auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, ident := range s.identities {
		if strings.EqualFold(ident.Email, email) {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

// ExistsByLicense reports whether a license is registered.
func (s *IdentityStore) ExistsByLicense(_ context.Context, number, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	for _, ident := range s.identities {
		if ident.License.Number == number && ident.License.State == state {
			return true, nil
		}
	}
	return false, nil
}

// UpdateStatus changes the stored status.
func (s *IdentityStore) UpdateStatus(_ context.Context, id ulid.ULID, status auth.Status) error {
	return s.update(id, func(i *auth.Identity) { i.Status = status })
}

// SetPassword replaces the hash and appends history.
func (s *IdentityStore) SetPassword(_ context.Context, id ulid.ULID, hash string, changedAt time.Time, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	ident, ok := s.identities[id]
	if !ok {
		return auth.ErrNotFound
	}
	ident.PasswordHash = hash
	ident.PasswordChangedAt = changedAt
	ident.MustChangePassword = false
	s.appendHistory(id, hash, changedAt, keep)
	return nil
}

// UpgradePasswordHash replaces the hash only.
func (s *IdentityStore) UpgradePasswordHash(_ context.Context, id ulid.ULID, hash string) error {
	return s.update(id, func(i *auth.Identity) { i.PasswordHash = hash })
}

// UpdateLastLogin records the login time.
func (s *IdentityStore) UpdateLastLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	return s.update(id, func(i *auth.Identity) { i.LastLoginAt = &at })
}

// ListRecent returns history newest first.
func (s *IdentityStore) ListRecent(_ context.Context, id ulid.ULID, limit int) ([]auth.PasswordHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	entries := s.history[id]
	out := make([]auth.PasswordHistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// HistoryLen returns the number of stored history entries for an identity.
func (s *IdentityStore) HistoryLen(id ulid.ULID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[id])
}

// Put stores an identity directly, bypassing uniqueness checks.
func (s *IdentityStore) Put(identity *auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *identity
	s.identities[identity.ID] = &cp
	s.appendHistory(identity.ID, identity.PasswordHash, identity.PasswordChangedAt, auth.DefaultHistoryDepth)
}

// Len returns the number of stored identities.
func (s *IdentityStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identities)
}

func (s *IdentityStore) update(id ulid.ULID, fn func(*auth.Identity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	ident, ok := s.identities[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(ident)
	return nil
}

func (s *IdentityStore) appendHistory(id ulid.ULID, hash string, at time.Time, keep int) {
	entries := append(s.history[id], auth.PasswordHistoryEntry{
		ID:           ulid.Make(),
		IdentityID:   id,
		PasswordHash: hash,
		CreatedAt:    at,
	})
	if keep > 0 && len(entries) > keep {
		entries = entries[len(entries)-keep:]
	}
	s.history[id] = entries
}

// FailureStore is an in-memory FailureRepository with the same reset and
// lock rules as the SQL upsert.
type FailureStore struct {
	mu      sync.Mutex
	records map[ulid.ULID]auth.FailedLoginRecord
	// Err, when set, is returned by every method.
	Err error
}

// NewFailureStore creates an empty FailureStore.
func NewFailureStore() *FailureStore {
	return &FailureStore{records: make(map[ulid.ULID]auth.FailedLoginRecord)}
}

// Get returns the record for an identity.
func (s *FailureStore) Get(_ context.Context, id ulid.ULID) (*auth.FailedLoginRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &rec, nil
}

// Increment applies one failure atomically.
func (s *FailureStore) Increment(_ context.Context, inc auth.FailureIncrement) (*auth.FailedLoginRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	rec, ok := s.records[inc.IdentityID]
	switch {
	case !ok:
		rec = auth.FailedLoginRecord{IdentityID: inc.IdentityID}
	case rec.LockedUntil != nil && !rec.LockedUntil.After(inc.At):
		rec.FailureCount = 0
		rec.LockedUntil = nil
	case rec.LockedUntil == nil && !rec.LastFailureAt.After(inc.WindowStart):
		rec.FailureCount = 0
	}
	rec.FailureCount++
	rec.LastFailureAt = inc.At
	rec.LastIP = inc.IPAddress
	rec.LastUserAgent = inc.UserAgent
	if rec.LockedUntil == nil && rec.FailureCount >= inc.Threshold {
		until := inc.LockUntil
		rec.LockedUntil = &until
	}
	s.records[inc.IdentityID] = rec
	out := rec
	return &out, nil
}

// Clear removes the record for an identity.
func (s *FailureStore) Clear(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.records, id)
	return nil
}

// TokenStore is an in-memory TokenRepository.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]*auth.VerificationToken
	// Err, when set, is returned by every method.
	Err error
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]*auth.VerificationToken)}
}

// Replace stores a token and marks prior unused tokens of the same identity
// and purpose as used.
func (s *TokenStore) Replace(_ context.Context, token *auth.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, t := range s.tokens {
		if t.IdentityID == token.IdentityID && t.Purpose == token.Purpose && t.UsedAt == nil {
			at := token.CreatedAt
			t.UsedAt = &at
		}
	}
	cp := *token
	s.tokens[token.TokenHash] = &cp
	return nil
}

// GetByHash returns a copy of a token.
func (s *TokenStore) GetByHash(_ context.Context, hash string, purpose auth.TokenPurpose) (*auth.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	t, ok := s.tokens[hash]
	if !ok || t.Purpose != purpose {
		return nil, auth.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// Consume checks and marks a token under the store lock.
func (s *TokenStore) Consume(_ context.Context, hash string, purpose auth.TokenPurpose, usedAt time.Time,
	check func(*auth.VerificationToken) error,
) (*auth.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	t, ok := s.tokens[hash]
	if !ok || t.Purpose != purpose {
		return nil, auth.ErrNotFound
	}
	cp := *t
	if err := check(&cp); err != nil {
		return nil, err
	}
	at := usedAt
	t.UsedAt = &at
	cp.UsedAt = &at
	return &cp, nil
}

// DeleteExpired removes expired tokens.
func (s *TokenStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

// ForIdentity returns copies of all tokens of an identity and purpose,
// oldest first.
func (s *TokenStore) ForIdentity(id ulid.ULID, purpose auth.TokenPurpose) []auth.VerificationToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.VerificationToken
	for _, t := range s.tokens {
		if t.IdentityID == id && t.Purpose == purpose {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

// RefreshStore is an in-memory RefreshTokenRepository.
type RefreshStore struct {
	mu     sync.Mutex
	tokens map[ulid.ULID]*auth.RefreshToken
	// Err, when set, is returned by every method.
	Err error
}

// NewRefreshStore creates an empty RefreshStore.
func NewRefreshStore() *RefreshStore {
	return &RefreshStore{tokens: make(map[ulid.ULID]*auth.RefreshToken)}
}

// Create stores a refresh token.
func (s *RefreshStore) Create(_ context.Context, token *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *token
	s.tokens[token.ID] = &cp
	return nil
}

// GetByTokenHash returns a copy of a refresh token.
func (s *RefreshStore) GetByTokenHash(_ context.Context, hash string) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, t := range s.tokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

// Revoke marks an active token revoked.
func (s *RefreshStore) Revoke(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	t, ok := s.tokens[id]
	if !ok || t.Revoked {
		return auth.ErrNotFound
	}
	t.Revoked = true
	return nil
}

// RevokeAllForIdentity revokes every active token of an identity.
func (s *RefreshStore) RevokeAllForIdentity(_ context.Context, identityID ulid.ULID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, t := range s.tokens {
		if t.IdentityID == identityID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes expired tokens.
func (s *RefreshStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// Active returns the number of unrevoked tokens of an identity.
func (s *RefreshStore) Active(identityID ulid.ULID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.IdentityID == identityID && !t.Revoked {
			n++
		}
	}
	return n
}

// AuditRecorder collects audit entries in memory.
type AuditRecorder struct {
	mu      sync.Mutex
	entries []auth.AuditEntry
}

// Record appends the entry.
func (r *AuditRecorder) Record(_ context.Context, entry auth.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Insert appends the entry.
func (r *AuditRecorder) Insert(ctx context.Context, entry *auth.AuditEntry) error {
	r.Record(ctx, *entry)
	return nil
}

// Entries returns a copy of the recorded entries.
func (r *AuditRecorder) Entries() []auth.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Last returns the most recent entry, or the zero entry if none.
func (r *AuditRecorder) Last() auth.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return auth.AuditEntry{}
	}
	return r.entries[len(r.entries)-1]
}

// FakeHasher is a fast, salted, reversible-looking hasher for tests. Cost,
// when set, is slept on every Hash and Verify to model a slow algorithm.
type FakeHasher struct {
	Cost     time.Duration
	counter  atomic.Int64
	verifies atomic.Int64
}

// Hash returns "fake$<n>$<password>".
func (h *FakeHasher) Hash(password string) (string, error) {
	if h.Cost > 0 {
		time.Sleep(h.Cost)
	}
	return fmt.Sprintf("fake$%d$%s", h.counter.Add(1), password), nil
}

// Verify checks a hash produced by Hash.
func (h *FakeHasher) Verify(password, hash string) bool {
	h.verifies.Add(1)
	if h.Cost > 0 {
		time.Sleep(h.Cost)
	}
	parts := strings.SplitN(hash, "$", 3)
	return len(parts) == 3 && parts[0] == "fake" && parts[2] == password
}

// NeedsUpgrade always returns false.
func (h *FakeHasher) NeedsUpgrade(string) bool { return false }

// Verifies returns the number of Verify calls.
func (h *FakeHasher) Verifies() int64 { return h.verifies.Load() }

// Metrics counts MetricsRecorder calls by label.
type Metrics struct {
	mu          sync.Mutex
	Logins      map[string]int
	Signups     map[string]int
	Lockouts    int
	SoftFails   map[string]int
	Redemptions map[string]int
}

var _ auth.MetricsRecorder = (*Metrics)(nil)

// NewMetrics creates an empty Metrics recorder.
func NewMetrics() *Metrics {
	return &Metrics{
		Logins:      make(map[string]int),
		Signups:     make(map[string]int),
		SoftFails:   make(map[string]int),
		Redemptions: make(map[string]int),
	}
}

// LoginAttempt counts a login outcome.
func (m *Metrics) LoginAttempt(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logins[outcome]++
}

// Registration counts a registration outcome.
func (m *Metrics) Registration(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Signups[outcome]++
}

// Lockout counts a lockout.
func (m *Metrics) Lockout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lockouts++
}

// UpstreamSoftFail counts a collaborator soft failure.
func (m *Metrics) UpstreamSoftFail(collaborator string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SoftFails[collaborator]++
}

// TokenRedemption counts a redemption as "purpose/outcome".
func (m *Metrics) TokenRedemption(purpose, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Redemptions[purpose+"/"+outcome]++
}

