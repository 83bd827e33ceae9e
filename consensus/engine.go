// Package consensus implements the block-proposal consensus state machine
// (spec component C6): it holds at most one pending block per slot,
// verifies incoming proposals (PoW + signature), aggregates votes, and
// exposes the commit threshold predicates the external block module polls.
//
// All mutation of PendingState is confined to callers holding Engine's
// lock. Engine methods do their own locking internally; the lock is not
// held across a PoW mint or the proposal checks in AcceptPropose, but
// AddPendingVotes verifies each vote signature while holding it, so a
// merge is applied atomically.
package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"solidus/crypto"
	"solidus/delegate"
	"solidus/pow"
	"solidus/propcodec"
	"solidus/slot"
)

// Engine is the consensus state machine. One Engine instance owns exactly
// one PendingState; it never touches the DHT, gossip, or persistence
// layers directly — those are driven externally via CreatePropose /
// AcceptPropose / CreateVotes / AddPendingVotes.
type Engine struct {
	mu        sync.Mutex
	clock     *slot.Clock
	delegates *delegate.Index
	env       propcodec.EnvContext

	pending PendingState
	phase   Phase
}

// NewEngine constructs an Engine bound to clock (slot/difficulty
// parameters) and delegates (the active delegate ring lookup).
func NewEngine(clock *slot.Clock, delegates *delegate.Index, env propcodec.EnvContext) *Engine {
	return &Engine{
		clock:     clock,
		delegates: delegates,
		env:       env,
		pending:   newPendingState(),
		phase:     PhaseIdle,
	}
}

// CreatePropose builds and PoW-mints a Propose for block, signed by
// keypair, bound to address. keypair's public key must equal
// block.GeneratorPublicKey.
func (e *Engine) CreatePropose(ctx context.Context, keypair *crypto.PrivateKey, block BlockHeader, address string) (*Propose, ErrorKind) {
	if keypair == nil || block.GeneratorPublicKey == nil {
		return nil, MalformedKey
	}
	if hex.EncodeToString(keypair.PubKey().Bytes()) != hex.EncodeToString(block.GeneratorPublicKey.Bytes()) {
		return nil, MalformedKey
	}

	delegateIdx, err := e.delegates.IndexOf(block.GeneratorPublicKey.Bytes())
	if err != nil {
		return nil, IndexLookupFailed
	}
	leading := e.clock.Leading()
	difficulty := pow.DifficultyFor(delegateIdx, leading)

	srcBytes, cerr := propcodec.ProposeHashBytes(e.env, propcodec.ProposeInput{
		Height:             int64(block.Height),
		ID:                 string(block.ID),
		GeneratorPublicKey: block.GeneratorPublicKey.Bytes(),
		Timestamp:          int32(block.Timestamp.Unix()),
		Address:            address,
	})
	if cerr != nil {
		return nil, MalformedKey
	}
	src := hex.EncodeToString(srcBytes)

	mintCtx, cancel := pow.WithTimeout(ctx, e.clock.PowTimeout())
	defer cancel()
	result, merr := pow.Mint(mintCtx, src, difficulty, leading)
	if merr != nil {
		return nil, MinerTimeout
	}

	sig := keypair.Sign(result.Hash[:])
	propose := &Propose{
		Height:             block.Height,
		ID:                 block.ID,
		Timestamp:          block.Timestamp,
		GeneratorPublicKey: block.GeneratorPublicKey,
		Address:            address,
		Hash:               result.Hash,
		Nonce:              result.Nonce,
	}
	copy(propose.Signature[:], sig)
	return propose, OK
}

// AcceptPropose verifies p's PoW binding and Ed25519 signature (spec
// §4.4). It never mutates PendingState; callers decide whether to call
// SetPendingBlock afterward.
func (e *Engine) AcceptPropose(p *Propose) ErrorKind {
	if p == nil || p.GeneratorPublicKey == nil {
		return MalformedKey
	}

	delegateIdx, err := e.delegates.IndexOf(p.GeneratorPublicKey.Bytes())
	if err != nil {
		return IndexLookupFailed
	}
	leading := e.clock.Leading()
	difficulty := pow.DifficultyFor(delegateIdx, leading)

	srcBytes, cerr := propcodec.ProposeHashBytes(e.env, propcodec.ProposeInput{
		Height:             int64(p.Height),
		ID:                 string(p.ID),
		GeneratorPublicKey: p.GeneratorPublicKey.Bytes(),
		Timestamp:          int32(p.Timestamp.Unix()),
		Address:            p.Address,
	})
	if cerr != nil {
		return PowInvalid
	}
	src := hex.EncodeToString(srcBytes)

	if !pow.Verify(src, p.Nonce, p.Hash, difficulty, leading) {
		return PowInvalid
	}
	if !p.GeneratorPublicKey.Verify(p.Hash[:], p.Signature[:]) {
		return SignatureInvalid
	}
	return OK
}

// SetPendingBlock installs a fresh pending block, clearing any previous
// vote accumulator (IDLE/PROPOSED/COMMITTABLE -> PROPOSED).
func (e *Engine) SetPendingBlock(block *BlockHeader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = newPendingState()
	e.pending.PendingBlock = block
	e.phase = PhaseProposed
}

// HasPendingBlock reports whether a pending block exists for the slot
// containing ts.
func (e *Engine) HasPendingBlock(ts time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending.PendingBlock == nil {
		return false
	}
	return e.clock.SlotOf(e.pending.PendingBlock.Timestamp) == e.clock.SlotOf(ts)
}

// Phase reports the engine's current state-machine phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// CreateVotes produces one vote signature per local keypair over
// voteHash(height, id) of block.
func (e *Engine) CreateVotes(keypairs []*crypto.PrivateKey, block BlockHeader) (*Vote, ErrorKind) {
	digest, err := e.voteDigest(int64(block.Height), string(block.ID))
	if err != OK {
		return nil, err
	}
	vote := &Vote{Height: block.Height, ID: block.ID, Timestamp: block.Timestamp}
	for _, kp := range keypairs {
		if kp == nil {
			continue
		}
		sig := kp.Sign(digest[:])
		entry := VoteSignature{Key: kp.PubKey()}
		copy(entry.Sig[:], sig)
		vote.Signatures = append(vote.Signatures, entry)
	}
	return vote, OK
}

func (e *Engine) voteDigest(height int64, id string) ([32]byte, ErrorKind) {
	bytes, err := propcodec.VoteHashBytes(e.env, height, id)
	if err != nil {
		return [32]byte{}, MalformedKey
	}
	return sha256.Sum256(bytes), OK
}

// AddPendingVotes merges v's signatures into the pending accumulator,
// verifying each signature and deduping by signer key (spec §4.4). A vote
// for a different (height, id) than the pending block is dropped without
// mutating state or raising an error.
func (e *Engine) AddPendingVotes(v *Vote) (*Vote, ErrorKind) {
	if v == nil {
		return nil, UnknownPending
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending.PendingBlock == nil {
		return nil, UnknownPending
	}
	if v.Height != e.pending.PendingBlock.Height || v.ID != e.pending.PendingBlock.ID {
		return e.pending.PendingVotes, OK
	}

	digest, derr := e.voteDigest(int64(v.Height), string(v.ID))
	if derr != OK {
		return e.pending.PendingVotes, OK
	}

	if e.pending.PendingVotes == nil {
		e.pending.PendingVotes = &Vote{Height: v.Height, ID: v.ID, Timestamp: v.Timestamp}
	}

	for _, sig := range v.Signatures {
		if sig.Key == nil {
			continue
		}
		keyHex := hex.EncodeToString(sig.Key.Bytes())
		if _, exists := e.pending.VotesKeySet[keyHex]; exists {
			continue
		}
		if !sig.Key.Verify(digest[:], sig.Sig[:]) {
			continue
		}
		e.pending.VotesKeySet[keyHex] = struct{}{}
		e.pending.PendingVotes.Signatures = append(e.pending.PendingVotes.Signatures, sig)
	}

	if e.phase == PhaseProposed && e.hasEnoughVotesLocked(e.pending.PendingVotes) {
		e.phase = PhaseCommittable
	}
	return e.pending.PendingVotes, OK
}

// HasEnoughVotes implements the local commit-finality predicate: strictly
// more than floor(2*D/3) signatures, where D is the active delegate count.
func (e *Engine) HasEnoughVotes(v *Vote) bool {
	e.mu.Lock()
	d := e.delegates.Size()
	e.mu.Unlock()
	return hasEnoughVotes(v, d)
}

func hasEnoughVotes(v *Vote, delegates uint32) bool {
	if v == nil {
		return false
	}
	threshold := (2 * int(delegates)) / 3
	return len(v.Signatures) > threshold
}

func (e *Engine) hasEnoughVotesLocked(v *Vote) bool {
	return hasEnoughVotes(v, e.delegates.Size())
}

// HasEnoughVotesRemote implements the lower propagation bar used only to
// decide whether the gossip layer relays a remote vote bundle one more
// hop before local finality is reached (see SPEC_FULL.md design notes:
// this never gates a local commit).
func (e *Engine) HasEnoughVotesRemote(v *Vote) bool {
	if v == nil {
		return false
	}
	return len(v.Signatures) >= 6
}

// ClearState resets the pending block, votes, and phase to IDLE. Called on
// slot boundary ticks and explicit resets; never called mid-round by
// verification failures (those drop silently per §4.4's failure policy).
func (e *Engine) ClearState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = newPendingState()
	e.phase = PhaseIdle
}

// PendingSnapshot returns a shallow copy of the current pending block and
// vote accumulator for read-only inspection (e.g. by the external block
// module deciding whether to commit).
func (e *Engine) PendingSnapshot() (block *BlockHeader, votes *Vote, phase Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.PendingBlock, e.pending.PendingVotes, e.phase
}
