package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// signedWindow is how far a request timestamp may drift from now.
	signedWindow = 5 * time.Minute
	maxNonces    = 10000
	maxBodyBytes = 1 << 20
)

// auth enforces bearer-token authentication and, when the X-SIG header is
// present, an HMAC request-integrity layer over "timestamp\nnonce\nbody".
// An empty secret disables both.
type auth struct {
	secret string

	mu     sync.Mutex
	nonces map[string]time.Time // nonce → seen at
}

func newAuth(secret string) *auth {
	return &auth{secret: secret, nonces: make(map[string]time.Time)}
}

func (a *auth) middleware(next http.Handler) http.Handler {
	if a.secret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, errUnauthorised, "missing or invalid bearer token")
			return
		}

		if sig := r.Header.Get("X-SIG"); sig != "" {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, http.StatusBadRequest, errInvalidInput, "unreadable body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if reason, ok := a.verifySignature(sig, r.Header.Get("X-TIMESTAMP"), r.Header.Get("X-NONCE"), body); !ok {
				writeError(w, http.StatusUnauthorized, errUnauthorised, reason)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// verifySignature checks X-SIG = hex(HMAC-SHA256(secret, timestamp\nnonce\nbody))
// with the timestamp inside the window and the nonce unused.
func (a *auth) verifySignature(sig, timestamp, nonce string, body []byte) (string, bool) {
	if timestamp == "" || nonce == "" {
		return "signed request missing X-TIMESTAMP or X-NONCE", false
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "malformed X-TIMESTAMP", false
	}
	if drift := time.Since(time.Unix(unix, 0)); drift > signedWindow || drift < -signedWindow {
		return "X-TIMESTAMP outside the allowed window", false
	}

	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(nonce))
	mac.Write([]byte{'\n'})
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return "signature mismatch", false
	}

	if !a.claimNonce(nonce) {
		return "nonce already used", false
	}
	return "", true
}

// claimNonce records a nonce, rejecting replays inside the window.
func (a *auth) claimNonce(nonce string) bool {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if seen, ok := a.nonces[nonce]; ok && now.Sub(seen) <= signedWindow {
		return false
	}
	if len(a.nonces) >= maxNonces {
		for n, seen := range a.nonces {
			if now.Sub(seen) > signedWindow {
				delete(a.nonces, n)
			}
		}
	}
	a.nonces[nonce] = now
	return true
}
