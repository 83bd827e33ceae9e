// Package pow implements the bounded Proof-of-Work puzzle that binds a
// proposal to its proposer's network address (spec §4.3). The inner
// hashing worker is the only piece treated as an opaque collaborator; the
// masking, difficulty derivation, and verification rules live here.
package pow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrTimeout is returned by Mint when no nonce is found before the
// wall-clock deadline elapses. The caller must treat this as fatal for the
// current slot only.
var ErrTimeout = errors.New("pow: mint timed out")

// mask clears bits 0x88 (keeping only bits 0x77) in each of the first
// leading bytes of h, in place on a copy.
func mask(h [32]byte, leading uint8) [32]byte {
	out := h
	n := int(leading)
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] &^= 0x88
	}
	return out
}

// hexPrefix renders the first n hex characters of h's lowercase hex
// encoding. difficulty is compared against this, not against a binary bit
// string: spec §4.3 defines the puzzle as hex(mask(...)).startsWith(difficulty),
// and a difficulty's '0'/'1' characters are themselves valid hex digits.
func hexPrefix(h [32]byte, n int) string {
	full := hex.EncodeToString(h[:])
	if n > len(full) {
		n = len(full)
	}
	return full[:n]
}

// DifficultyFor derives the per-delegate difficulty string per spec §4.3:
// rawIndex = delegateIndex mod (2^leading - 1); difficulty = binary(rawIndex,
// width=leading).
func DifficultyFor(delegateIndex uint32, leading uint8) string {
	if leading == 0 {
		return ""
	}
	modulus := uint64(1)<<uint(leading) - 1
	if modulus == 0 {
		modulus = 1
	}
	rawIndex := uint64(delegateIndex) % modulus
	var sb strings.Builder
	sb.Grow(int(leading))
	for i := int(leading) - 1; i >= 0; i-- {
		if rawIndex&(1<<uint(i)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func hashWithNonce(src string, nonce uint64) [32]byte {
	payload := src + strconv.FormatUint(nonce, 10)
	return sha256.Sum256([]byte(payload))
}

// Result is the outcome of a successful Mint.
type Result struct {
	Hash  [32]byte
	Nonce uint64
}

// Mint finds a nonce such that hex(mask(SHA256(src || asciiDecimal(nonce))))
// starts with difficulty, racing a bank of worker goroutines against the
// supplied context deadline. Callers should derive ctx from a
// context.WithTimeout(parent, powTimeOut).
func Mint(ctx context.Context, src string, difficulty string, leading uint8) (Result, error) {
	if leading == 0 {
		return Result{}, fmt.Errorf("pow: leading must be > 0")
	}

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type found struct {
		res Result
	}
	resultCh := make(chan found, 1)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		start := uint64(w)
		stride := uint64(workers)
		go func(nonce uint64) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				h := hashWithNonce(src, nonce)
				masked := mask(h, leading)
				if strings.HasPrefix(hexPrefix(masked, len(difficulty)), difficulty) {
					select {
					case resultCh <- found{res: Result{Hash: masked, Nonce: nonce}}:
						cancel()
					default:
					}
					return
				}
				nonce += stride
			}
		}(start)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case r := <-resultCh:
		<-done
		return r.res, nil
	case <-ctx.Done():
		<-done
		select {
		case r := <-resultCh:
			return r.res, nil
		default:
			return Result{}, ErrTimeout
		}
	}
}

// Verify recomputes candidate = mask(SHA256(src||nonce)) and checks it
// equals mask(submittedHash) and that its hex prefix matches difficulty,
// per spec §4.3.
func Verify(src string, nonce uint64, submittedHash [32]byte, difficulty string, leading uint8) bool {
	candidate := mask(hashWithNonce(src, nonce), leading)
	submitted := mask(submittedHash, leading)
	if candidate != submitted {
		return false
	}
	return strings.HasPrefix(hexPrefix(candidate, len(difficulty)), difficulty)
}

// WithTimeout is a small helper wrapping context.WithTimeout so callers in
// the consensus package don't need to import "context" purely for this.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
