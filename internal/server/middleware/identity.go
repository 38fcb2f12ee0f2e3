package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/easybet/internal/crypto"
)

// Caller identity headers.
const (
	HeaderAddress   = "X-Easybet-Address"
	HeaderTimestamp = "X-Easybet-Timestamp"
	HeaderSignature = "X-Easybet-Signature"
)

const maxSignedBody = 1 << 20

type callerKey struct{}

// Caller returns the authenticated caller of the request.
func Caller(ctx context.Context) (common.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(common.Address)
	return c, ok
}

// WithCaller attaches an authenticated caller to ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// IdentityConfig controls caller authentication.
type IdentityConfig struct {
	// Window bounds the clock skew accepted on signed timestamps.
	Window time.Duration
	// Trust accepts the address header without a signature.
	Trust bool
	Now   func() time.Time
}

// Identity authenticates the caller named in X-Easybet-Address. The caller
// proves control of the address with an EIP-191 signature over the request
// (see crypto.RequestMessage). Requests without the header pass through
// anonymously; handlers that mutate state reject them.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claimed := r.Header.Get(HeaderAddress)
			if claimed == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(claimed) {
				writeError(w, http.StatusUnauthorized, "malformed "+HeaderAddress)
				return
			}
			addr := common.HexToAddress(claimed)

			if !cfg.Trust {
				if err := verify(r, addr, cfg); err != nil {
					writeError(w, http.StatusUnauthorized, err.Error())
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

func verify(r *http.Request, addr common.Address, cfg IdentityConfig) error {
	sig := r.Header.Get(HeaderSignature)
	ts := r.Header.Get(HeaderTimestamp)
	if sig == "" || ts == "" {
		return errors.New("signature and timestamp headers are required")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("malformed " + HeaderTimestamp)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
		if err != nil {
			return errors.New("unreadable body")
		}
		if len(body) > maxSignedBody {
			return errors.New("body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if err := crypto.VerifyRequest(addr, r.Method, r.URL.Path, unix, body, sig, cfg.Now(), cfg.Window); err != nil {
		return errors.New("invalid request signature")
	}
	return nil
}
