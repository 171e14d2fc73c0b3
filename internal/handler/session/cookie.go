package session

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const (
	// CookieName is the name of the session credential cookie.
	CookieName = "sid"
	// HeaderName carries a raw session ID issued by /new-session.
	HeaderName = "X-Session-ID"
)

// CookieCodec signs session IDs into the cookie and reads them back. The
// cookie has no Max-Age so the browser drops it when the client context ends.
type CookieCodec struct {
	secret []byte
	secure bool
}

// NewCookieCodec returns a codec signing with secret. Secure cookies are sent
// with SameSite=None so cross-origin clients keep them.
func NewCookieCodec(secret []byte, secure bool) *CookieCodec {
	return &CookieCodec{secret: secret, secure: secure}
}

// Token returns the session ID presented by the request, or "" when there is
// none or the cookie signature does not verify.
func (c *CookieCodec) Token(r *http.Request) string {
	if tokens := c.Tokens(r); len(tokens) > 0 {
		return tokens[0]
	}
	return ""
}

// Tokens returns every session ID the request carries, the verified cookie
// first and the X-Session-ID header second.
func (c *CookieCodec) Tokens(r *http.Request) []string {
	var tokens []string
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if id, err := c.decode(cookie.Value); err == nil {
			tokens = append(tokens, id)
		}
	}
	if header := strings.TrimSpace(r.Header.Get(HeaderName)); header != "" {
		tokens = append(tokens, header)
	}
	return tokens
}

// Set writes the signed cookie for sessionID.
func (c *CookieCodec) Set(w http.ResponseWriter, sessionID string) error {
	value, err := c.encode(sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(w, c.cookie(value, 0))
	return nil
}

// Clear expires the cookie on the client.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1))
}

func (c *CookieCodec) cookie(value string, maxAge int) *http.Cookie {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
	if c.secure {
		cookie.SameSite = http.SameSiteNoneMode
	}
	return cookie
}

func (c *CookieCodec) encode(sessionID string) (string, error) {
	claims := jwt.StandardClaims{
		Id:       sessionID,
		IssuedAt: time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *CookieCodec) decode(value string) (string, error) {
	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Id == "" {
		return "", fmt.Errorf("invalid session cookie")
	}
	return claims.Id, nil
}
