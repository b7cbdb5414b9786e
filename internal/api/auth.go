package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"tasknode/internal/models"
)

// Headers of account signed requests
const (
	SignatureHeader = "X-Account-Signature"
	TimestampHeader = "X-Request-Timestamp"
)

const (
	maxClockSkew  = 5 * time.Minute
	maxSignedBody = 1 << 20
)

var (
	errMissingSignature = errors.New("missing account signature")
	errStaleRequest     = errors.New("request timestamp outside the accepted window")
	errReplayedRequest  = errors.New("request already processed")
)

type callerKey struct{}

// RequestDigest is the hash an account signs to authenticate a request
func RequestDigest(method, path string, timestamp int64, body []byte) common.Hash {
	header := fmt.Sprintf("tasknode request\n%s\n%s\n%d\n", method, path, timestamp)
	return crypto.Keccak256Hash([]byte(header), crypto.Keccak256(body))
}

// SignRequest signs r with key. body must be the request body.
func SignRequest(r *http.Request, body []byte, key *ecdsa.PrivateKey, now time.Time) error {
	ts := now.Unix()
	sig, err := crypto.Sign(RequestDigest(r.Method, r.URL.Path, ts, body).Bytes(), key)
	if err != nil {
		return err
	}
	r.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	r.Header.Set(SignatureHeader, hexutil.Encode(sig))
	return nil
}

// CallerFromContext returns the account that signed the request
func CallerFromContext(ctx context.Context) (models.AccountID, bool) {
	caller, ok := ctx.Value(callerKey{}).(models.AccountID)
	return caller, ok
}

// recoverCaller verifies the signature headers of r against body
func recoverCaller(r *http.Request, body []byte, now time.Time) (models.AccountID, common.Hash, error) {
	rawSig := r.Header.Get(SignatureHeader)
	rawTs := r.Header.Get(TimestampHeader)
	if rawSig == "" || rawTs == "" {
		return models.AccountID{}, common.Hash{}, errMissingSignature
	}

	ts, err := strconv.ParseInt(rawTs, 10, 64)
	if err != nil {
		return models.AccountID{}, common.Hash{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	if d := now.Sub(time.Unix(ts, 0)); d > maxClockSkew || d < -maxClockSkew {
		return models.AccountID{}, common.Hash{}, errStaleRequest
	}

	sig, err := hexutil.Decode(rawSig)
	if err != nil {
		return models.AccountID{}, common.Hash{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return models.AccountID{}, common.Hash{}, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	// accept the 27/28 recovery id of wallet signatures
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest := RequestDigest(r.Method, r.URL.Path, ts, body)
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return models.AccountID{}, common.Hash{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return models.AccountFromPublicKey(pub), digest, nil
}

// replayCache remembers requests seen within the clock skew window
type replayCache struct {
	mu   sync.Mutex
	seen map[common.Hash]time.Time
}

func newReplayCache() *replayCache {
	return &replayCache{seen: make(map[common.Hash]time.Time)}
}

// add records the request digest of caller and reports false if it was
// already seen
func (c *replayCache) add(caller models.AccountID, digest common.Hash, now time.Time) bool {
	key := crypto.Keccak256Hash(caller[:], digest.Bytes())

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, expiry := range c.seen {
		if now.After(expiry) {
			delete(c.seen, k)
		}
	}
	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = now.Add(2 * maxClockSkew)
	return true
}

// accountMiddleware authenticates the caller of a request from its
// account signature and stores it in the request context
func accountMiddleware(now func() time.Time, logger *zap.Logger) func(http.Handler) http.Handler {
	replays := newReplayCache()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body", err)
				return
			}
			if len(body) > maxSignedBody {
				respondError(w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
				return
			}

			t := now()
			caller, digest, err := recoverCaller(r, body, t)
			if err != nil {
				logger.Debug("Rejected unsigned request",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				respondError(w, http.StatusUnauthorized, "Unauthorized", err)
				return
			}
			if !replays.add(caller, digest, t) {
				respondError(w, http.StatusUnauthorized, "Unauthorized", errReplayedRequest)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		})
	}
}
