// Copyright 2024 Harith Kavish
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session holds the signed-in identity and its short-lived
// bearer credential.
//
// Token acquisition is interactive (a consent flow at the provider),
// so duplicate prompts are a user-visible bug. All concurrent Token
// callers share one in-flight grant request; a second caller awaits
// the first caller's result instead of racing it.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/harithkavish/drivechat/internal/message"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSafetyWindow is the margin before expiry at which a
	// credential is treated as already expired.
	DefaultSafetyWindow = 5 * time.Second

	// acquisitionPadding shortens a fresh grant's nominal lifetime
	// so the client gives up on a token well before the provider
	// does.
	acquisitionPadding = 30 * time.Second

	// defaultLifetime stands in when the provider does not report a
	// lifetime with the grant.
	defaultLifetime = time.Hour
)

// Provider performs the interactive consent flow. Implementations
// are opaque collaborators; the session consumes only the token and
// its lifetime.
type Provider interface {
	// WaitReady blocks until the provider can serve grant requests
	// or ctx is done.
	WaitReady(ctx context.Context) error

	// Grant runs one interactive consent request, returning the
	// bearer token and its lifetime in seconds.
	Grant(ctx context.Context) (accessToken string, expiresIn int64, err error)

	// Revoke invalidates the given token provider-side. Best
	// effort; callers do not block on it succeeding.
	Revoke(ctx context.Context, accessToken string) error
}

// Mirror persists the credential across restarts.
type Mirror interface {
	Credential(ctx context.Context) *message.Credential
	SaveCredential(ctx context.Context, cred message.Credential) error
	ClearCredential(ctx context.Context) error
}

// AuthError wraps the provider's error payload for a denied or
// failed grant. It is surfaced as a retry affordance, never treated
// as fatal.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "auth: " + e.Err.Error() }

// Cause supports errors.Cause chains.
func (e *AuthError) Cause() error { return e.Err }

// Unwrap supports errors.Is and errors.As.
func (e *AuthError) Unwrap() error { return e.Err }

// Session is the credential holder for one signed-in user.
type Session struct {
	provider Provider
	mirror   Mirror
	log      *logrus.Logger

	now    func() time.Time
	window time.Duration

	mu   sync.Mutex
	user *message.Identity
	cred *message.Credential

	group singleflight.Group
}

func New(provider Provider, mirror Mirror, log *logrus.Logger) *Session {
	return &Session{
		provider: provider,
		mirror:   mirror,
		log:      log,
		now:      time.Now,
		window:   DefaultSafetyWindow,
	}
}

// SetSafetyWindow overrides the expiry margin. Zero or negative
// durations are ignored.
func (s *Session) SetSafetyWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.window = d
	s.mu.Unlock()
}

// Ready blocks until the identity provider can serve requests.
func (s *Session) Ready(ctx context.Context) error {
	return s.provider.WaitReady(ctx)
}

// SetUser adopts a decoded identity. Passing nil signs the identity
// out of the in-memory session without touching the credential.
func (s *Session) SetUser(user *message.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// User returns the signed-in identity, or nil.
func (s *Session) User() *message.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Restore adopts the mirrored credential if it is still outside the
// safety window; a stale mirror is deleted instead.
func (s *Session) Restore(ctx context.Context) {
	cred := s.mirror.Credential(ctx)
	if cred == nil {
		return
	}
	if s.now().Add(s.window).Before(cred.Expiry()) {
		s.mu.Lock()
		s.cred = cred
		s.mu.Unlock()
		return
	}
	if err := s.mirror.ClearCredential(ctx); err != nil {
		s.log.WithError(err).Warn("failed to clear stale credential mirror")
	}
}

// CachedToken returns the current token without triggering a grant.
// Best-effort callers (the directory lookup) use this so that a
// passive feature never raises a consent prompt.
func (s *Session) CachedToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return "", false
	}
	if !s.now().Add(s.window).Before(s.cred.Expiry()) {
		return "", false
	}
	return s.cred.AccessToken, true
}

// Token returns a credential valid for at least the safety window,
// requesting a fresh grant when the cached one is absent or too
// close to expiry. Grant failures come back as *AuthError.
func (s *Session) Token(ctx context.Context) (string, error) {
	if token, ok := s.CachedToken(); ok {
		return token, nil
	}
	v, err, _ := s.group.Do("grant", func() (interface{}, error) {
		// A caller that queued behind a completed grant can use
		// its result directly.
		if token, ok := s.CachedToken(); ok {
			return token, nil
		}
		token, expiresIn, err := s.provider.Grant(ctx)
		if err != nil {
			return nil, &AuthError{Err: err}
		}
		if expiresIn <= 0 {
			expiresIn = int64(defaultLifetime / time.Second)
		}
		cred := message.Credential{
			AccessToken: token,
			ExpiresAt: s.now().
				Add(time.Duration(expiresIn)*time.Second - acquisitionPadding).
				UnixMilli(),
		}
		s.mu.Lock()
		s.cred = &cred
		s.mu.Unlock()
		if err := s.mirror.SaveCredential(ctx, cred); err != nil {
			s.log.WithError(err).Warn("failed to persist credential mirror")
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SignOut clears the identity, the credential and its mirror.
// Provider-side revocation is fired without waiting for it.
func (s *Session) SignOut(ctx context.Context) {
	s.mu.Lock()
	var token string
	if s.cred != nil {
		token = s.cred.AccessToken
	}
	s.user = nil
	s.cred = nil
	s.mu.Unlock()

	if err := s.mirror.ClearCredential(ctx); err != nil {
		s.log.WithError(err).Warn("failed to clear credential mirror")
	}
	if token != "" {
		go func() {
			if err := s.provider.Revoke(context.Background(), token); err != nil {
				s.log.WithError(err).Debug("provider-side revocation failed")
			}
		}()
	}
}

// DecodeIdentity extracts the identity claims from a provider ID
// token. The payload segment is decoded without signature
// verification: the token arrives from the provider's own sign-in
// callback, not from untrusted input.
func DecodeIdentity(token string) (*message.Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("malformed identity token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.Wrap(err, "decoding identity token payload")
	}
	var id message.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, errors.Wrap(err, "parsing identity token payload")
	}
	if id.Email == "" {
		return nil, errors.New("identity token has no email claim")
	}
	return &id, nil
}
