package source

import (
	"context"
	"crypto/md5"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// digestClient faz GET com HTTP Digest (MD5, qop=auth), como as câmeras
// Hikvision/Dahua exigem. Guarda o último challenge para não pagar o 401
// em todo snapshot.
type digestClient struct {
	http     *http.Client
	username string
	password string

	mu        sync.Mutex
	challenge *digestChallenge
	nc        uint32
}

type digestChallenge struct {
	Realm string
	Nonce string
	Qop   string
}

var digestRx = regexp.MustCompile(`(\w+)="([^"]+)"`)

func parseDigestAuthHeader(h string) (*digestChallenge, error) {
	if !strings.HasPrefix(strings.ToLower(h), "digest ") {
		return nil, fmt.Errorf("WWW-Authenticate não é Digest: %s", h)
	}
	h = strings.TrimSpace(h[len("Digest "):])
	res := &digestChallenge{}
	for _, kv := range digestRx.FindAllStringSubmatch(h, -1) {
		switch strings.ToLower(kv[1]) {
		case "realm":
			res.Realm = kv[2]
		case "nonce":
			res.Nonce = kv[2]
		case "qop":
			res.Qop = kv[2]
		}
	}
	if res.Realm == "" || res.Nonce == "" {
		return nil, fmt.Errorf("realm/nonce ausentes em WWW-Authenticate: %s", h)
	}
	if res.Qop == "" {
		res.Qop = "auth"
	}
	return res, nil
}

func (c *digestClient) get(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	ch := c.challenge
	c.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		if ch != nil {
			req.Header.Set("Authorization", c.authorization(ch, u.RequestURI()))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || c.username == "" {
			return resp, nil
		}

		// 401: nonce novo ou primeira requisição
		header := resp.Header.Get("WWW-Authenticate")
		_ = resp.Body.Close()
		next, err := parseDigestAuthHeader(header)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.challenge = next
		c.nc = 0
		c.mu.Unlock()
		ch = next
	}
	return nil, fmt.Errorf("autenticação digest recusada em %s", u.Redacted())
}

func (c *digestClient) authorization(ch *digestChallenge, uri string) string {
	c.mu.Lock()
	c.nc++
	nc := fmt.Sprintf("%08x", c.nc)
	c.mu.Unlock()

	cnonce := randomHex(16)
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", c.username, ch.Realm, c.password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", http.MethodGet, uri))
	response := md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, ch.Nonce, nc, cnonce, ch.Qop, ha2))

	return fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", algorithm=MD5, response="%s", qop=%s, nc=%s, cnonce="%s"`,
		c.username, ch.Realm, ch.Nonce, uri, response, ch.Qop, nc, cnonce,
	)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = crand.Read(b)
	return hex.EncodeToString(b)
}
