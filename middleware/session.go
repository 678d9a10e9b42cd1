package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pledgesite/api/logging"
	"pledgesite/api/session"
)

const (
	SessionCookie = "pledge_session"
	VisitorCookie = "pledge_visitor"
	// PageIDHeader carries the id the page generates on every load.
	PageIDHeader = "X-Page-ID"

	sessionIDKey = "session_id"
	visitorIDKey = "visitor_id"
	pageIDKey    = "page_id"
)

// Session makes sure every request carries a session id and a visitor id. Missing,
// expired or tampered cookies are replaced with fresh ids. The session cookie
// slides: it is re-issued on every request.
func Session(tokens *session.Tokens, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := readCookie(c, tokens, SessionCookie, session.KindSession)
		if sessionID == "" {
			sessionID = session.NewSessionID(time.Now())
		}
		setCookie(c, tokens.IssueSession, SessionCookie, sessionID, tokens.SessionTTL(), secure)

		visitorID := readCookie(c, tokens, VisitorCookie, session.KindVisitor)
		if visitorID == "" {
			visitorID = session.NewVisitorID()
			setCookie(c, tokens.IssueVisitor, VisitorCookie, visitorID, tokens.VisitorTTL(), secure)
		}

		pageID := c.GetHeader(PageIDHeader)
		if len(pageID) > 128 {
			pageID = pageID[:128]
		}

		c.Set(sessionIDKey, sessionID)
		c.Set(visitorIDKey, visitorID)
		c.Set(pageIDKey, pageID)
		c.Next()
	}
}

func readCookie(c *gin.Context, tokens *session.Tokens, name, kind string) string {
	raw, err := c.Cookie(name)
	if err != nil || raw == "" {
		return ""
	}
	id, err := tokens.Parse(raw, kind)
	if err != nil {
		logging.Debug().Err(err).Str("cookie", name).Msg("discarding invalid cookie")
		return ""
	}
	return id
}

func setCookie(c *gin.Context, issue func(string) (string, error), name, id string, ttl time.Duration, secure bool) {
	signed, err := issue(id)
	if err != nil {
		logging.Error().Err(err).Str("cookie", name).Msg("failed to sign cookie")
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, signed, int(ttl.Seconds()), "/", "", secure, true)
}

func SessionID(c *gin.Context) string { return c.GetString(sessionIDKey) }
func VisitorID(c *gin.Context) string { return c.GetString(visitorIDKey) }
func PageID(c *gin.Context) string    { return c.GetString(pageIDKey) }
