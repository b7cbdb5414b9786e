// Package tss provides the threshold signing collaborator the executor
// requests payload signatures from.
package tss

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"tasknode/internal/metrics"
	"tasknode/internal/models"
)

var (
	ErrUnknownShard = errors.New("no signing key for shard")
	ErrStopped      = errors.New("signer stopped")
)

type request struct {
	shard   models.ShardID
	block   uint64
	payload []byte
	reply   chan response
}

type response struct {
	digest    common.Hash
	signature []byte
	err       error
}

// Signer answers signing requests from a single loop. Each shard holds one
// secp256k1 key standing in for the group key.
type Signer struct {
	mu       sync.RWMutex
	keys     map[models.ShardID]*ecdsa.PrivateKey
	requests chan request
	done     chan struct{}
	timeout  time.Duration
	logger   *zap.Logger
}

func NewSigner(timeout time.Duration, logger *zap.Logger) *Signer {
	return &Signer{
		keys:     make(map[models.ShardID]*ecdsa.PrivateKey),
		requests: make(chan request),
		done:     make(chan struct{}),
		timeout:  timeout,
		logger:   logger.Named("tss"),
	}
}

// AddKey installs the signing key of a shard from its hex encoding
func (s *Signer) AddKey(shard models.ShardID, hexKey string) error {
	key, err := crypto.HexToECDSA(trim0x(hexKey))
	if err != nil {
		return fmt.Errorf("invalid key for shard %d: %w", shard, err)
	}
	s.mu.Lock()
	s.keys[shard] = key
	s.mu.Unlock()
	return nil
}

// PublicKey returns the compressed public key of a shard
func (s *Signer) PublicKey(shard models.ShardID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[shard]
	if !ok {
		return nil, false
	}
	return crypto.CompressPubkey(&key.PublicKey), true
}

// Run serves requests until ctx is cancelled
func (s *Signer) Run(ctx context.Context) error {
	s.logger.Info("Signer started")
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Signer stopped")
			return nil
		case req := <-s.requests:
			req.reply <- s.sign(req)
		}
	}
}

func (s *Signer) sign(req request) response {
	s.mu.RLock()
	key, ok := s.keys[req.shard]
	s.mu.RUnlock()
	if !ok {
		return response{err: fmt.Errorf("%w: %d", ErrUnknownShard, req.shard)}
	}

	digest := crypto.Keccak256Hash(req.payload)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return response{err: fmt.Errorf("failed to sign: %w", err)}
	}

	s.logger.Debug("Signed payload",
		zap.Uint64("shard_id", uint64(req.shard)),
		zap.Uint64("block", req.block),
		zap.String("digest", digest.Hex()))
	return response{digest: digest, signature: sig}
}

// Sign requests a signature over the Keccak-256 digest of payload. The
// round-trip is bounded by the signer timeout.
func (s *Signer) Sign(ctx context.Context, shard models.ShardID, block uint64, payload []byte) (common.Hash, []byte, error) {
	start := time.Now()
	defer func() {
		metrics.TSSRequestDuration.Observe(time.Since(start).Seconds())
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req := request{shard: shard, block: block, payload: payload, reply: make(chan response, 1)}

	select {
	case s.requests <- req:
	case <-s.done:
		metrics.TSSRequestsFailed.Inc()
		return common.Hash{}, nil, ErrStopped
	case <-ctx.Done():
		metrics.TSSRequestsFailed.Inc()
		return common.Hash{}, nil, fmt.Errorf("signing request for shard %d: %w", shard, ctx.Err())
	}

	select {
	case resp := <-req.reply:
		if resp.err != nil {
			metrics.TSSRequestsFailed.Inc()
		}
		return resp.digest, resp.signature, resp.err
	case <-ctx.Done():
		metrics.TSSRequestsFailed.Inc()
		return common.Hash{}, nil, fmt.Errorf("signing response for shard %d: %w", shard, ctx.Err())
	}
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
