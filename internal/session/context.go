// Package session owns per-call state: the Session value, its typed
// SessionContext, and the rolling conversation Memory. This replaces
// the teacher's dynamic attribute-bag pattern (UserConnection mixing
// ad-hoc fields with a mutex) with one explicit, typed struct per the
// redesign note that flags unstructured per-session state as a defect.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two origination paths spec §4.8 describes.
type Kind string

const (
	KindBrowser   Kind = "browser"
	KindTelephony Kind = "telephony"
)

// Context is the explicit, typed bag of per-session attributes that
// used to live as loose fields/maps on the teacher's UserConnection.
// Every field here is something a component legitimately needs to read
// or write during the session's lifetime; there is no "everything
// else" catch-all map.
type Context struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	Kind      Kind

	// CallerID is populated for telephony sessions (ACS caller number);
	// empty for browser sessions.
	CallerID string

	// LanguageHint is an optional BCP-47 hint forwarded to STT/TTS.
	LanguageHint string

	// GreetingPlayed records whether the opening greeting has already
	// been synthesized for this session, so a reconnect/resume never
	// replays it; a resumed browser session gets a "session resumed"
	// status envelope instead.
	GreetingPlayed bool

	CreatedAt    time.Time
	LastActivity time.Time
}

// Touch refreshes LastActivity; callers invoke this on every inbound
// frame or outbound turn completion.
func (c *Context) Touch() {
	c.LastActivity = time.Now()
}
