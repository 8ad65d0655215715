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

// Package chat orchestrates the message store: local appends, thread
// reads and the opportunistic cloud sync that mirrors the whole
// message map to one remote document.
//
// The local store is updated synchronously on every action and is
// what the UI renders from. The remote document is an eventually
// consistent mirror: refreshed on sign-in, overwritten after every
// local append, with no merge of concurrent edits — whichever write
// completes last wins at document granularity.
package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harithkavish/drivechat/internal/message"
	"github.com/harithkavish/drivechat/internal/session"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Status is the per-session sync state. Errors are never sticky: the
// error status always transitions straight back to idle, and the
// next operation retries from scratch with no backoff.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusAuthenticating Status = "authenticating"
	StatusSyncing        Status = "syncing"
	StatusError          Status = "error"
)

// Store composes the local store, the session and the remote mirror.
// All mutable state lives here; there are no package globals. The
// zero value is not usable, construct with New.
type Store struct {
	local    LocalStorage
	remote   RemoteStorage
	sess     *session.Session
	profiles ProfileResolver
	log      *logrus.Logger
	now      func() time.Time

	mu       sync.Mutex
	status   Status
	lastErr  error
	onStatus func(Status)

	ops     atomic.Uint64
	pending sync.WaitGroup
}

func New(local LocalStorage, remote RemoteStorage, sess *session.Session, profiles ProfileResolver, log *logrus.Logger) *Store {
	return &Store{
		local:    local,
		remote:   remote,
		sess:     sess,
		profiles: profiles,
		log:      log,
		now:      time.Now,
		status:   StatusIdle,
	}
}

// OnStatusChange registers a callback invoked on every status
// transition. The UI uses this for its sync indicator.
func (s *Store) OnStatusChange(fn func(Status)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// Status returns the current sync status.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the most recent sync failure. By the time a
// caller observes it the status is already back to idle.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	fn := s.onStatus
	s.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}

func (s *Store) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.setStatus(StatusError)
	s.setStatus(StatusIdle)
	return err
}

// Restore adopts the persisted session on startup: the user record
// and, while still fresh, the credential mirror.
func (s *Store) Restore(ctx context.Context) {
	if user := s.local.User(ctx); user != nil {
		s.sess.SetUser(user)
	}
	s.sess.Restore(ctx)
}

// SignIn adopts a decoded identity, persists the user record and
// runs the bootstrap sync.
func (s *Store) SignIn(ctx context.Context, id message.Identity) error {
	s.sess.SetUser(&id)
	if err := s.local.SaveUser(ctx, id); err != nil {
		return errors.Wrap(err, "persisting user record")
	}
	return s.BootstrapSync(ctx)
}

// SignOut clears the session, the persisted user record and the peer
// selector. Local messages stay; they are the user's own store.
func (s *Store) SignOut(ctx context.Context) {
	s.sess.SignOut(ctx)
	if err := s.local.ClearUser(ctx); err != nil {
		s.log.WithError(err).Warn("failed to clear user record")
	}
	if err := s.local.ClearPeer(ctx); err != nil {
		s.log.WithError(err).Warn("failed to clear peer selector")
	}
}

// User returns the signed-in identity, or nil.
func (s *Store) User() *message.Identity {
	return s.sess.User()
}

// SelectPeer records the active conversation partner and resolves
// their display profile. An empty email clears the selector.
func (s *Store) SelectPeer(ctx context.Context, email string) (message.Profile, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		if err := s.local.ClearPeer(ctx); err != nil {
			return message.Profile{}, errors.Wrap(err, "clearing peer selector")
		}
		return message.Profile{}, nil
	}
	if err := s.local.SavePeer(ctx, email); err != nil {
		return message.Profile{}, errors.Wrap(err, "persisting peer selector")
	}
	return s.resolveProfile(ctx, email), nil
}

// ActivePeer returns the persisted peer selector, or "".
func (s *Store) ActivePeer(ctx context.Context) string {
	return s.local.Peer(ctx)
}

// resolveProfile consults the cache, then the directory, then the
// heuristic. The result is cached and never invalidated, so a peer's
// name can go stale until the entry is overwritten.
func (s *Store) resolveProfile(ctx context.Context, email string) message.Profile {
	cache := s.local.Profiles(ctx)
	if p, ok := cache[email]; ok {
		return p
	}
	p := s.profiles.Lookup(ctx, email)
	cache[email] = p
	if err := s.local.SaveProfiles(ctx, cache); err != nil {
		s.log.WithError(err).Warn("failed to persist profile cache")
	}
	return p
}

// Append records a message from the signed-in user to peer with the
// current timestamp and persists it synchronously. A best-effort
// remote push is started in the background; push failures are logged
// and never reach the caller. Append never deduplicates: two calls
// with identical arguments store two messages.
func (s *Store) Append(ctx context.Context, peer, text string) (message.Message, error) {
	user := s.sess.User()
	if user == nil {
		return message.Message{}, errors.New("not signed in")
	}
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return message.Message{}, errors.New("no peer selected")
	}

	msg := message.Message{
		From:        user.Email,
		To:          peer,
		Text:        text,
		Timestamp:   s.now().UnixMilli(),
		FromName:    user.Name,
		FromPicture: user.Picture,
	}
	key := message.ThreadKey(user.Email, peer)
	m := s.local.Messages(ctx)
	m[key] = append(m[key], msg)
	if err := s.local.SaveMessages(ctx, m); err != nil {
		return message.Message{}, errors.Wrap(err, "saving message")
	}

	s.pushAsync(m.Clone())
	return msg, nil
}

// pushAsync starts a detached whole-map push. Op numbers are
// monotonic but completion order is not: the last write to finish
// determines the remote document, which may be a stale snapshot.
func (s *Store) pushAsync(snapshot message.Map) {
	op := s.ops.Add(1)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.push(context.Background(), snapshot); err != nil {
			s.log.WithError(err).WithField("op", op).Warn("background push failed")
		}
	}()
}

// Wait drains in-flight background pushes. Used at shutdown and by
// tests; the UI never blocks on it.
func (s *Store) Wait() {
	s.pending.Wait()
}

func (s *Store) push(ctx context.Context, m message.Map) error {
	s.setStatus(StatusSyncing)
	id, err := s.remote.EnsureFile(ctx)
	if err != nil {
		return s.fail(errors.Wrap(err, "locating remote file"))
	}
	if err := s.remote.Write(ctx, id, m); err != nil {
		return s.fail(errors.Wrap(err, "writing remote file"))
	}
	s.setStatus(StatusIdle)
	return nil
}

// PushToRemote writes the entire current local message map to the
// remote document, creating it if necessary.
func (s *Store) PushToRemote(ctx context.Context) error {
	return s.push(ctx, s.local.Messages(ctx))
}

// PullFromRemote refreshes local state from the remote document. A
// non-empty remote replaces the local map wholesale, so local
// messages appended between sessions but never pushed are lost to
// it. An empty remote with local content is seeded from local
// instead; that is a one-directional bootstrap, not a merge.
func (s *Store) PullFromRemote(ctx context.Context) error {
	s.setStatus(StatusSyncing)
	id, err := s.remote.EnsureFile(ctx)
	if err != nil {
		return s.fail(errors.Wrap(err, "locating remote file"))
	}
	remote, err := s.remote.Read(ctx, id)
	if err != nil {
		return s.fail(errors.Wrap(err, "reading remote file"))
	}
	if len(remote) > 0 {
		if err := s.local.SaveMessages(ctx, remote); err != nil {
			return s.fail(errors.Wrap(err, "replacing local messages"))
		}
	} else if local := s.local.Messages(ctx); len(local) > 0 {
		if err := s.remote.Write(ctx, id, local); err != nil {
			return s.fail(errors.Wrap(err, "seeding remote file"))
		}
	}
	s.setStatus(StatusIdle)
	return nil
}

// BootstrapSync runs the once-per-sign-in reconciliation: await the
// identity provider, then pull. The returned error doubles as the
// UI's manual retry affordance; it is never fatal.
func (s *Store) BootstrapSync(ctx context.Context) error {
	if s.sess.User() == nil {
		return nil
	}
	s.setStatus(StatusAuthenticating)
	if err := s.sess.Ready(ctx); err != nil {
		return s.fail(errors.Wrap(err, "identity provider not ready"))
	}
	return s.PullFromRemote(ctx)
}

// Thread returns the conversation between the signed-in user and
// peer. An unknown pairing yields an empty thread, never an error.
func (s *Store) Thread(ctx context.Context, peer string) message.Thread {
	user := s.sess.User()
	if user == nil || strings.TrimSpace(peer) == "" {
		return nil
	}
	return s.local.Messages(ctx)[message.ThreadKey(user.Email, peer)]
}

// RecentChat summarizes one conversation for the peer list.
type RecentChat struct {
	Email     string
	Name      string
	Picture   string
	Timestamp int64 // of the last message
}

// RecentChats lists the signed-in user's conversation partners, most
// recently active first. Display names fall back through message
// metadata, the cached directory profile and the address-derived
// heuristic.
func (s *Store) RecentChats(ctx context.Context) []RecentChat {
	user := s.sess.User()
	if user == nil {
		return nil
	}
	msgs := s.local.Messages(ctx)
	cache := s.local.Profiles(ctx)

	byPeer := make(map[string]RecentChat)
	for key, thread := range msgs {
		peer := message.Peer(key, user.Email)
		if peer == "" || len(thread) == 0 {
			continue
		}
		last := thread[len(thread)-1]
		rc := RecentChat{Email: peer, Name: peer, Timestamp: last.Timestamp}
		for _, m := range thread {
			if strings.EqualFold(m.From, peer) && m.FromName != "" {
				rc.Name = m.FromName
				rc.Picture = m.FromPicture
				break
			}
		}
		if p, ok := cache[peer]; ok {
			rc.Name = p.Name
			rc.Picture = p.Picture
		}
		if rc.Name == peer {
			rc.Name = message.DisplayName(peer)
		}
		if prev, ok := byPeer[peer]; !ok || prev.Timestamp < rc.Timestamp {
			byPeer[peer] = rc
		}
	}

	out := make([]RecentChat, 0, len(byPeer))
	for _, rc := range byPeer {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

// RefreshProfiles fills in missing directory profiles for chats,
// updating the slice in place and the cache behind it. Lookups run
// concurrently and are best effort throughout.
func (s *Store) RefreshProfiles(ctx context.Context, chats []RecentChat) {
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(4)

	profiles := make([]message.Profile, len(chats))
	for i := range chats {
		if chats[i].Picture != "" {
			continue
		}
		i := i
		grp.Go(func() error {
			profiles[i] = s.profiles.Lookup(gctx, chats[i].Email)
			return nil
		})
	}
	_ = grp.Wait() // lookups never return errors

	cache := s.local.Profiles(ctx)
	changed := false
	for i, p := range profiles {
		if p.Email == "" {
			continue
		}
		chats[i].Name = p.Name
		if p.Picture != "" {
			chats[i].Picture = p.Picture
		}
		cache[p.Email] = p
		changed = true
	}
	if changed {
		if err := s.local.SaveProfiles(ctx, cache); err != nil {
			s.log.WithError(err).Warn("failed to persist profile cache")
		}
	}
}
