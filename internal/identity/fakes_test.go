// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gatewarden/gatewarden/internal/identity"
)

// In-memory fakes backing the service tests. They reproduce the store
// contracts (sentinel errors, single-use guards, rotation atomicity) without
// a database; error fields inject failures per method.

type fakeExternalRepo struct {
	mu         sync.Mutex
	byID       map[ulid.ULID]*identity.ExternalPrincipal
	createErr  error
	getErr     error
	updateErr  error
	passwdErr  error
	passwdSets int
}

func newFakeExternalRepo() *fakeExternalRepo {
	return &fakeExternalRepo{byID: make(map[ulid.ULID]*identity.ExternalPrincipal)}
}

func (f *fakeExternalRepo) Create(_ context.Context, p *identity.ExternalPrincipal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.byID {
		if existing.Email == p.Email && !existing.IsDeleted() {
			return identity.ErrPrincipalExists
		}
	}
	cp := *p
	f.byID[p.ID] = &cp
	return nil
}

func (f *fakeExternalRepo) GetByID(_ context.Context, id ulid.ULID) (*identity.ExternalPrincipal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeExternalRepo) GetByEmail(_ context.Context, email string) (*identity.ExternalPrincipal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, p := range f.byID {
		if p.Email == email && !p.IsDeleted() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeExternalRepo) Update(_ context.Context, p *identity.ExternalPrincipal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.byID[p.ID]; !ok {
		return identity.ErrNotFound
	}
	cp := *p
	f.byID[p.ID] = &cp
	return nil
}

func (f *fakeExternalRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.passwdErr != nil {
		return f.passwdErr
	}
	p, ok := f.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	p.PasswordHash = &passwordHash
	f.passwdSets++
	return nil
}

func (f *fakeExternalRepo) SoftDelete(_ context.Context, id ulid.ULID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	if p.DeletedAt == nil {
		now := time.Now()
		p.DeletedAt = &now
	}
	return nil
}

func (f *fakeExternalRepo) add(p *identity.ExternalPrincipal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.byID[p.ID] = &cp
}

type fakeInternalRepo struct {
	mu     sync.Mutex
	byID   map[ulid.ULID]*identity.InternalPrincipal
	getErr error
}

func newFakeInternalRepo() *fakeInternalRepo {
	return &fakeInternalRepo{byID: make(map[ulid.ULID]*identity.InternalPrincipal)}
}

func (f *fakeInternalRepo) Create(_ context.Context, p *identity.InternalPrincipal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == p.Email {
			return identity.ErrPrincipalExists
		}
	}
	cp := *p
	f.byID[p.ID] = &cp
	return nil
}

func (f *fakeInternalRepo) GetByID(_ context.Context, id ulid.ULID) (*identity.InternalPrincipal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeInternalRepo) GetByEmail(_ context.Context, email string) (*identity.InternalPrincipal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, p := range f.byID {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeInternalRepo) Update(_ context.Context, p *identity.InternalPrincipal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[p.ID]; !ok {
		return identity.ErrNotFound
	}
	cp := *p
	f.byID[p.ID] = &cp
	return nil
}

func (f *fakeInternalRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	p.PasswordHash = &passwordHash
	return nil
}

func (f *fakeInternalRepo) add(p *identity.InternalPrincipal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.byID[p.ID] = &cp
}

type fakeSessionRepo struct {
	mu        sync.Mutex
	byID      map[ulid.ULID]*identity.Session
	createErr error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byID: make(map[ulid.ULID]*identity.Session)}
}

func (f *fakeSessionRepo) Create(_ context.Context, s *identity.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *s
	f.byID[s.ID] = &cp
	return nil
}

func (f *fakeSessionRepo) GetByID(_ context.Context, id ulid.ULID) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) GetLatestActive(_ context.Context, principal identity.PrincipalRef) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *identity.Session
	for _, s := range f.byID {
		if s.Principal != principal || s.IsRevoked() {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, identity.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeSessionRepo) Revoke(_ context.Context, id ulid.ULID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	if s.RevokedAt == nil {
		s.RevokedAt = &at
	}
	return nil
}

func (f *fakeSessionRepo) RevokeAllForPrincipal(_ context.Context, principal identity.PrincipalRef, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.byID {
		if s.Principal == principal && s.RevokedAt == nil {
			s.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

type fakeRefreshRepo struct {
	mu        sync.Mutex
	byHash    map[string]*identity.RefreshToken
	createErr error
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{byHash: make(map[string]*identity.RefreshToken)}
}

func (f *fakeRefreshRepo) Create(_ context.Context, t *identity.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *t
	f.byHash[t.TokenHash] = &cp
	return nil
}

func (f *fakeRefreshRepo) GetByHash(_ context.Context, tokenHash string) (*identity.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byHash[tokenHash]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeRefreshRepo) Rotate(_ context.Context, presentedHash, replacementHash string, expiresAt time.Time) (*identity.RefreshToken, *identity.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	presented, ok := f.byHash[presentedHash]
	if !ok {
		return nil, nil, identity.ErrNotFound
	}
	if presented.IsRevoked() {
		return nil, nil, identity.ErrTokenRevoked
	}
	if presented.IsExpired() {
		return nil, nil, identity.ErrTokenExpired
	}
	now := time.Now()
	presented.RevokedAt = &now

	minted, err := identity.NewRefreshToken(presented.Principal, presented.SessionID, replacementHash, expiresAt)
	if err != nil {
		return nil, nil, err
	}
	cp := *minted
	f.byHash[replacementHash] = &cp

	consumed := *presented
	return &consumed, minted, nil
}

func (f *fakeRefreshRepo) RevokeBySession(_ context.Context, sessionID ulid.ULID, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.byHash {
		if t.SessionID == sessionID && t.RevokedAt == nil {
			t.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshRepo) RevokeAllForPrincipal(_ context.Context, principal identity.PrincipalRef, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.byHash {
		if t.Principal == principal && t.RevokedAt == nil {
			t.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshRepo) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.byHash {
		if t.RevokedAt == nil {
			n++
		}
	}
	return n
}

type fakeResetRepo struct {
	mu     sync.Mutex
	byHash map[string]*identity.PasswordResetToken
}

func newFakeResetRepo() *fakeResetRepo {
	return &fakeResetRepo{byHash: make(map[string]*identity.PasswordResetToken)}
}

func (f *fakeResetRepo) Create(_ context.Context, t *identity.PasswordResetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.byHash[t.TokenHash] = &cp
	return nil
}

func (f *fakeResetRepo) GetByHash(_ context.Context, tokenHash string) (*identity.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byHash[tokenHash]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeResetRepo) MarkUsed(_ context.Context, id ulid.ULID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byHash {
		if t.ID == id {
			if t.UsedAt != nil {
				return identity.ErrTokenRevoked
			}
			t.UsedAt = &at
			return nil
		}
	}
	return identity.ErrNotFound
}

func (f *fakeResetRepo) DeleteExpired(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for hash, t := range f.byHash {
		if t.UsedAt == nil && t.IsExpired() {
			delete(f.byHash, hash)
			n++
		}
	}
	return n, nil
}

type fakeAuditRepo struct {
	mu        sync.Mutex
	records   []*identity.AuditRecord
	appendErr error
}

func (f *fakeAuditRepo) Append(_ context.Context, record *identity.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeAuditRepo) actions() []identity.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]identity.AuditAction, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.Action)
	}
	return out
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeMailer struct {
	mu      sync.Mutex
	sent    []sentMail
	sendErr error
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

// fakeTransactor runs fn directly; the fakes are already atomic enough for
// unit tests.
type fakeTransactor struct {
	beginErr error
}

func (f *fakeTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.beginErr != nil {
		return f.beginErr
	}
	return fn(ctx)
}

// testHasherParams keeps argon2id cheap in tests.
func testHasherParams() identity.HasherParams {
	return identity.HasherParams{
		Time:    1,
		Memory:  16 * 1024,
		Threads: 1,
		SaltLen: 16,
		KeyLen:  32,
	}
}
