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

package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/harithkavish/drivechat/internal/message"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Semantic storage slots. Each slot holds one JSON document, the way
// the browser client kept one localStorage entry per concern.
const (
	slotMessages   = "messages"
	slotProfiles   = "peer-profiles"
	slotUser       = "current-user"
	slotPeer       = "current-peer"
	slotCredential = "credential"
)

var createTableSQL = []string{
	// The kv table holds every persisted slot.
	//
	// Field: slot
	//
	//   The semantic slot name, one of the slot* constants above.
	//
	// Field: value
	//
	//   The slot's current content, JSON encoded. A malformed value
	//   is treated as absent by readers; it is never an error.
	//
	// Field: updated_at
	//
	//   Epoch millis of the last write. Informational only.
	`
CREATE TABLE IF NOT EXISTS kv (
slot TEXT NOT NULL PRIMARY KEY,
value TEXT NOT NULL,
updated_at INTEGER NOT NULL
);`,
}

// DB is the durable client-side store. It is the source of truth for
// rendering; the remote document is only an eventually-consistent
// mirror of the messages slot.
type DB struct {
	db  *sql.DB
	log *logrus.Logger
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Open opens (creating if necessary) the store at path.
func Open(ctx context.Context, path string, log *logrus.Logger) (*DB, error) {
	// The _busy_timeout is a SQLite extension that controls how
	// long SQLite will poll before giving up. The default of 5
	// seconds is too short when a background push and a foreground
	// append land together; go with 5 minutes.
	var busyTimeout = int(5*time.Minute) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)}})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from "+
				"the given path",
			path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q",
			path, dsn)
	}

	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the "+
				"database schema", path)
	}

	return &DB{db: db, log: log}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range createTableSQL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "while executing %q", stmt)
		}
	}
	return nil
}

func (db *DB) get(ctx context.Context, slot string) (string, bool, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE slot = $1`, slot)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "reading slot %q", slot)
	}
	return value, true, nil
}

func (db *DB) set(ctx context.Context, slot string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding slot %q", slot)
	}
	_, err = db.db.ExecContext(ctx, `
INSERT INTO kv (slot, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (slot) DO UPDATE SET (value, updated_at) = ($2, $3)`,
		slot, string(raw), time.Now().UnixMilli())
	return errors.Wrapf(err, "writing slot %q", slot)
}

func (db *DB) del(ctx context.Context, slot string) error {
	_, err := db.db.ExecContext(ctx,
		`DELETE FROM kv WHERE slot = $1`, slot)
	return errors.Wrapf(err, "deleting slot %q", slot)
}

// decode unmarshals a slot into out, reporting whether anything
// usable was found. Malformed content is logged and treated as
// absent; readers always fail soft.
func (db *DB) decode(ctx context.Context, slot string, out interface{}) bool {
	raw, ok, err := db.get(ctx, slot)
	if err != nil {
		db.log.WithError(err).Warnf("failed to load %s", slot)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		db.log.WithError(err).Warnf("discarding malformed %s", slot)
		return false
	}
	return true
}

// Messages loads the full message map. It never fails: corrupt or
// missing state yields an empty map.
func (db *DB) Messages(ctx context.Context) message.Map {
	var m message.Map
	if !db.decode(ctx, slotMessages, &m) || m == nil {
		return message.Map{}
	}
	return m
}

// SaveMessages persists the full message map synchronously. Unlike
// the read path, write failures are surfaced: silently dropping an
// append would violate the local-store-as-source-of-truth contract.
func (db *DB) SaveMessages(ctx context.Context, m message.Map) error {
	return db.set(ctx, slotMessages, m)
}

// Profiles loads the peer profile cache. Entries never expire.
func (db *DB) Profiles(ctx context.Context) map[string]message.Profile {
	var p map[string]message.Profile
	if !db.decode(ctx, slotProfiles, &p) || p == nil {
		return map[string]message.Profile{}
	}
	return p
}

func (db *DB) SaveProfiles(ctx context.Context, p map[string]message.Profile) error {
	return db.set(ctx, slotProfiles, p)
}

// User loads the persisted user record, or nil when signed out.
func (db *DB) User(ctx context.Context) *message.Identity {
	var id message.Identity
	if !db.decode(ctx, slotUser, &id) || id.Email == "" {
		return nil
	}
	return &id
}

func (db *DB) SaveUser(ctx context.Context, id message.Identity) error {
	return db.set(ctx, slotUser, id)
}

func (db *DB) ClearUser(ctx context.Context) error {
	return db.del(ctx, slotUser)
}

// Peer loads the persisted peer selector, or "" when none is set.
func (db *DB) Peer(ctx context.Context) string {
	var peer string
	if !db.decode(ctx, slotPeer, &peer) {
		return ""
	}
	return peer
}

func (db *DB) SavePeer(ctx context.Context, email string) error {
	return db.set(ctx, slotPeer, email)
}

func (db *DB) ClearPeer(ctx context.Context) error {
	return db.del(ctx, slotPeer)
}

// Credential loads the mirrored credential, or nil when absent or
// unreadable. Freshness is the session's concern, not the store's.
func (db *DB) Credential(ctx context.Context) *message.Credential {
	var cred message.Credential
	if !db.decode(ctx, slotCredential, &cred) || cred.AccessToken == "" {
		return nil
	}
	return &cred
}

func (db *DB) SaveCredential(ctx context.Context, cred message.Credential) error {
	return db.set(ctx, slotCredential, cred)
}

func (db *DB) ClearCredential(ctx context.Context) error {
	return db.del(ctx, slotCredential)
}
