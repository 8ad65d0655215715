package message

// This file provides the common data objects used by the rest of the
// program.

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

// KeySeparator joins the two normalized participant addresses of a
// thread key.
const KeySeparator = "::"

// Message is a single chat message. Messages are immutable once
// appended; ordering within a thread is append order.
type Message struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"`
	FromName    string `json:"fromName,omitempty"`
	FromPicture string `json:"fromPicture,omitempty"`
}

// Thread is the append-only message sequence for one pair of
// participants. Threads grow only by append; there is no delete or
// edit operation.
type Thread []Message

// Map is the complete mapping of thread key to thread. It is the
// sole unit of cloud persistence: sync always reads and writes the
// whole map, never a delta.
type Map map[string]Thread

// Clone returns a copy of m whose threads do not share backing
// arrays with the original. Background pushes operate on clones so
// that a later local append cannot mutate an in-flight snapshot.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for key, thread := range m {
		copied := make(Thread, len(thread))
		copy(copied, thread)
		out[key] = copied
	}
	return out
}

// Profile is a cached peer profile, keyed by email in the profile
// store. Entries are created lazily on first reference to a peer and
// never expire, so a peer's name or picture can go stale.
type Profile struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Identity is the decoded identity token payload for the signed-in
// user. The identity provider is an opaque collaborator; these three
// claims are all this program consumes from it.
type Identity struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Credential is a short-lived bearer credential for the cloud APIs.
type Credential struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"` // epoch millis
}

// Expiry returns the credential expiry as a time.Time.
func (c Credential) Expiry() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}

// ThreadKey derives the deterministic key for a two-party
// conversation. Participant order and letter case do not matter:
// ThreadKey(a, b) == ThreadKey(b, a) for all inputs.
func ThreadKey(a, b string) string {
	pair := []string{NormalizeEmail(a), NormalizeEmail(b)}
	sort.Strings(pair)
	return pair[0] + KeySeparator + pair[1]
}

// NormalizeEmail lowercases and trims an address the way thread keys
// expect it.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Peer returns the participant of key that is not me, or "" when the
// key is malformed or does not involve me.
func Peer(key, me string) string {
	parts := strings.Split(key, KeySeparator)
	if len(parts) != 2 {
		return ""
	}
	switch NormalizeEmail(me) {
	case parts[0]:
		return parts[1]
	case parts[1]:
		return parts[0]
	}
	return ""
}

// DisplayName derives a human-readable name from an email address.
// The local part is taken, digits are stripped, words are split on
// camelCase boundaries and on the separators '.', '_' and '-', and
// each word is title-cased. An address that yields no words falls
// back to the address itself.
func DisplayName(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}

	var words []string
	var word []rune
	flush := func() {
		if len(word) > 0 {
			words = append(words, string(word))
			word = word[:0]
		}
	}
	var prev rune
	for _, r := range local {
		switch {
		case unicode.IsDigit(r):
			// stripped
		case r == '.' || r == '_' || r == '-':
			flush()
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			word = append(word, r)
		default:
			word = append(word, r)
		}
		prev = r
	}
	flush()

	if len(words) == 0 {
		return email
	}
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
