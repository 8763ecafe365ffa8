package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/dto"
)

const (
	flashCookieName    = "flash"
	returnToCookieName = "return_to"
	stateCookieName    = "oauth_state"

	flashMaxAge = 5 * time.Minute
	stateMaxAge = 10 * time.Minute

	flashContextKey = "flash_messages"

	FlashErrors  = "errors"
	FlashInfo    = "info"
	FlashSuccess = "success"
)

// CookieConfig controls how the session cookie is written
type CookieConfig struct {
	SessionName string
	Secure      bool
}

func (cc CookieConfig) setSession(c *gin.Context, session *domain.Session) {
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	cc.set(c, cc.SessionName, session.Token, maxAge, "/")
}

func (cc CookieConfig) clearSession(c *gin.Context) {
	cc.set(c, cc.SessionName, "", -1, "/")
}

func (cc CookieConfig) set(c *gin.Context, name, value string, maxAge int, path string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, path, "", cc.Secure, true)
}

// addFlash queues a message for the next page the browser renders
func (cc CookieConfig) addFlash(c *gin.Context, kind, msg string) {
	messages := pendingFlashes(c)
	messages = append(messages, dto.FlashMessage{Kind: kind, Msg: msg})
	c.Set(flashContextKey, messages)

	raw, err := json.Marshal(messages)
	if err != nil {
		return
	}
	cc.set(c, flashCookieName, base64.RawURLEncoding.EncodeToString(raw), int(flashMaxAge.Seconds()), "/")
}

// consumeFlashes returns the queued messages and clears them
func (cc CookieConfig) consumeFlashes(c *gin.Context) []dto.FlashMessage {
	messages := pendingFlashes(c)
	if len(messages) > 0 {
		cc.set(c, flashCookieName, "", -1, "/")
		c.Set(flashContextKey, []dto.FlashMessage(nil))
	}
	if messages == nil {
		messages = []dto.FlashMessage{}
	}
	return messages
}

func pendingFlashes(c *gin.Context) []dto.FlashMessage {
	if v, ok := c.Get(flashContextKey); ok {
		messages, _ := v.([]dto.FlashMessage)
		return messages
	}

	value, err := c.Cookie(flashCookieName)
	if err != nil || value == "" {
		return nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil
	}

	var messages []dto.FlashMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil
	}
	return messages
}

func (cc CookieConfig) rememberReturnTo(c *gin.Context, path string) {
	cc.set(c, returnToCookieName, url64(path), int(stateMaxAge.Seconds()), "/")
}

// popReturnTo returns the remembered local path, or "/"
func (cc CookieConfig) popReturnTo(c *gin.Context) string {
	value, err := c.Cookie(returnToCookieName)
	if err != nil || value == "" {
		return "/"
	}
	cc.set(c, returnToCookieName, "", -1, "/")

	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || !isLocalPath(string(raw)) {
		return "/"
	}
	return string(raw)
}

func isLocalPath(path string) bool {
	return strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "//") && !strings.HasPrefix(path, "/\\")
}

func url64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
