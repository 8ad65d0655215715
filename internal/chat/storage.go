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

package chat

// This file provides the storage contracts the orchestrator programs
// against.

import (
	"context"

	"github.com/harithkavish/drivechat/internal/message"
)

// LocalStorage is the durable client-side store. It is the source of
// truth for rendering: reads fail soft, writes are synchronous.
type LocalStorage interface {
	Messages(ctx context.Context) message.Map
	SaveMessages(ctx context.Context, m message.Map) error

	Profiles(ctx context.Context) map[string]message.Profile
	SaveProfiles(ctx context.Context, p map[string]message.Profile) error

	User(ctx context.Context) *message.Identity
	SaveUser(ctx context.Context, id message.Identity) error
	ClearUser(ctx context.Context) error

	Peer(ctx context.Context) string
	SavePeer(ctx context.Context, email string) error
	ClearPeer(ctx context.Context) error
}

// RemoteStorage is the whole-document cloud mirror of the message
// map. Implementations move the full map on every read and write.
type RemoteStorage interface {
	EnsureFile(ctx context.Context) (string, error)
	Read(ctx context.Context, id string) (message.Map, error)
	Write(ctx context.Context, id string, m message.Map) error
}

// ProfileResolver resolves a peer's display profile. Implementations
// are best effort and never fail.
type ProfileResolver interface {
	Lookup(ctx context.Context, email string) message.Profile
}
