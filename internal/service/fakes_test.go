package service

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/tokenguard/internal/errs"
	"github.com/and161185/tokenguard/internal/limiter"
	"github.com/and161185/tokenguard/internal/model"
	"github.com/and161185/tokenguard/internal/repository"
	"github.com/and161185/tokenguard/internal/revocation"
)

/************ principals ************/

type fakePrincipals struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Principal

	getErr error
}

var _ repository.PrincipalRepository = (*fakePrincipals)(nil)

func newFakePrincipals() *fakePrincipals {
	return &fakePrincipals{byID: map[uuid.UUID]*model.Principal{}}
}

func (f *fakePrincipals) put(p *model.Principal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *p
	f.byID[p.ID] = &c
}

func (f *fakePrincipals) find(match func(*model.Principal) bool) (*model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, p := range f.byID {
		if match(p) {
			c := *p
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakePrincipals) GetByID(_ context.Context, id uuid.UUID) (*model.Principal, error) {
	return f.find(func(p *model.Principal) bool { return p.ID == id })
}

func (f *fakePrincipals) GetByEmail(_ context.Context, email string) (*model.Principal, error) {
	return f.find(func(p *model.Principal) bool { return p.Email == email })
}

// GetByLogin prefers an email match over a username match.
func (f *fakePrincipals) GetByLogin(_ context.Context, login string) (*model.Principal, error) {
	p, err := f.find(func(p *model.Principal) bool { return p.Email == login })
	if !errors.Is(err, errs.ErrNotFound) {
		return p, err
	}
	return f.find(func(p *model.Principal) bool { return p.Username == login })
}

func (f *fakePrincipals) SetTOTPSecret(_ context.Context, id uuid.UUID, secret []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	p.TOTPSecret = append([]byte(nil), secret...)
	return nil
}

func (f *fakePrincipals) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakePrincipals) claims(email, username string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.Email == email || p.Username == username {
			return true
		}
	}
	return false
}

/************ sessions ************/

type fakeSessionRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Session
}

var _ repository.SessionRepository = (*fakeSessionRepo)(nil)

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byID: map[uuid.UUID]*model.Session{}}
}

func (f *fakeSessionRepo) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *s
	f.byID[s.ID] = &c
	return nil
}

func (f *fakeSessionRepo) Get(_ context.Context, id uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeSessionRepo) ListByPrincipal(_ context.Context, principalID uuid.UUID) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.byID {
		if s.PrincipalID == principalID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeSessionRepo) Touch(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	s.LastSeenAt = at
	return nil
}

func (f *fakeSessionRepo) Rebind(_ context.Context, id uuid.UUID, oldTokenID, tokenID string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok || s.TokenID != oldTokenID {
		return errs.ErrNotFound
	}
	s.TokenID, s.TokenExpiresAt = tokenID, exp
	return nil
}

func (f *fakeSessionRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}

func (f *fakeSessionRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

/************ pending registrations ************/

type fakePending struct {
	mu         sync.Mutex
	rows       []*model.PendingRegistration
	principals *fakePrincipals
}

var _ repository.PendingRepository = (*fakePending)(nil)

func (f *fakePending) Create(_ context.Context, p *model.PendingRegistration, now time.Time) error {
	if f.principals.claims(p.Email, p.Username) {
		return errs.ErrConflict
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := make([]*model.PendingRegistration, 0, len(f.rows))
	for _, r := range f.rows {
		clash := r.Email == p.Email || r.Username == p.Username
		if clash && r.Live(now) {
			return errs.ErrConflict
		}
		if !clash {
			kept = append(kept, r)
		}
	}
	c := *p
	f.rows = append(kept, &c)
	return nil
}

func (f *fakePending) Consume(_ context.Context, tokenHash []byte, id uuid.UUID, now time.Time) (*model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.rows {
		if !bytes.Equal(r.TokenHash, tokenHash) {
			continue
		}
		if !r.Live(now) {
			return nil, errs.ErrRegistrationExpired
		}
		p := &model.Principal{ID: id, Email: r.Email, Username: r.Username, PwdHash: r.PwdHash, Roles: []string{"user"}, Verified: true, CreatedAt: now}
		f.principals.put(p)
		f.rows = append(f.rows[:i], f.rows[i+1:]...)
		return p, nil
	}
	return nil, errs.ErrNotFound
}

func (f *fakePending) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	kept := f.rows[:0]
	for _, r := range f.rows {
		if !r.ExpiresAt.Before(now) {
			kept = append(kept, r)
			continue
		}
		n++
	}
	f.rows = kept
	return n, nil
}

func (f *fakePending) UsernameClaimed(_ context.Context, username string, now time.Time) (bool, error) {
	if f.principals.claims("", username) {
		return true, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.Username == username && r.Live(now) {
			return true, nil
		}
	}
	return false, nil
}

/************ revocation ************/

type fakeStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time

	// failRevoke makes the next N Revoke calls fail.
	failRevoke  int
	revokeCalls int
	checkErr    error
	// afterCheck runs after IsRevoked has read its answer, outside the lock.
	afterCheck func()
}

var _ revocation.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore { return &fakeStore{revoked: map[string]time.Time{}} }

func (s *fakeStore) Revoke(_ context.Context, id string, exp time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeCalls++
	if s.failRevoke > 0 {
		s.failRevoke--
		return false, errStoreDown
	}
	if _, ok := s.revoked[id]; ok {
		return false, nil
	}
	s.revoked[id] = exp
	return true, nil
}

func (s *fakeStore) IsRevoked(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	checkErr, gate := s.checkErr, s.afterCheck
	_, ok := s.revoked[id]
	s.mu.Unlock()
	if checkErr != nil {
		return false, checkErr
	}
	if gate != nil {
		gate()
	}
	return ok, nil
}

func (s *fakeStore) Prune(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, exp := range s.revoked {
		if exp.Before(now) {
			delete(s.revoked, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.revoked)
}

// gate makes the next n IsRevoked callers wait for each other after reading.
func (s *fakeStore) gate(n int) {
	var wg sync.WaitGroup
	wg.Add(n)
	s.mu.Lock()
	s.afterCheck = func() {
		s.mu.Lock()
		join := n > 0
		n--
		s.mu.Unlock()
		if join {
			wg.Done()
			wg.Wait()
		}
	}
	s.mu.Unlock()
}

func (s *fakeStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[id]
	return ok
}

/************ limiter & sender ************/

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}
func (l *fakeLimiter) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeSender struct {
	mu   sync.Mutex
	sent map[string]string
	err  error
}

func (s *fakeSender) SendVerification(_ context.Context, email, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.sent == nil {
		s.sent = map[string]string{}
	}
	s.sent[email] = token
	return nil
}
