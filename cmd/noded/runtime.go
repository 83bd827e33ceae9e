package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"solidus/config"
	"solidus/consensus"
	"solidus/crypto"
	"solidus/delegate"
	"solidus/observability"
	"solidus/p2p/dht"
	"solidus/p2p/gossip"
	"solidus/p2p/rpcclient"
	"solidus/p2p/seeds"
	"solidus/slot"
)

const (
	topicPropose = "propose"
	topicVote    = "votes"
)

// nodeRuntime wires the consensus engine to the gossip topics that carry
// proposals and votes, and drives the per-slot production loop. None of
// this belongs to the consensus package itself (spec's explicit
// "block production scheduler ... out of scope" boundary) — it's the
// external driver the spec assumes exists.
type nodeRuntime struct {
	logger        *slog.Logger
	cfg           *config.Config
	overlay       *dht.Overlay
	gossip        *gossip.Layer
	engine        *consensus.Engine
	slotClock     *slot.Clock
	delegateIndex *delegate.Index
	validatorKey  *crypto.PrivateKey
	rpcClient     *rpcclient.Client

	lastSlot uint64
}

// proposeWire is the JSON wire encoding for consensus.Propose: its
// GeneratorPublicKey is a *crypto.PublicKey, which isn't itself
// JSON-serializable, so the gossip layer carries the raw pubkey bytes
// instead and rehydrates them on receipt.
type proposeWire struct {
	Height     uint64 `json:"height"`
	ID         string `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	PubKey     []byte `json:"pubkey"`
	Address    string `json:"address"`
	Hash       []byte `json:"hash"`
	Nonce      uint64 `json:"nonce"`
	Signature  []byte `json:"signature"`
}

type voteSignatureWire struct {
	PubKey []byte `json:"pubkey"`
	Sig    []byte `json:"sig"`
}

type voteWire struct {
	Height     uint64              `json:"height"`
	ID         string              `json:"id"`
	Timestamp  int64               `json:"timestamp"`
	Signatures []voteSignatureWire `json:"signatures"`
}

func encodePropose(p *consensus.Propose) ([]byte, error) {
	return json.Marshal(proposeWire{
		Height:    p.Height,
		ID:        string(p.ID),
		Timestamp: p.Timestamp.Unix(),
		PubKey:    p.GeneratorPublicKey.Bytes(),
		Address:   p.Address,
		Hash:      p.Hash[:],
		Nonce:     p.Nonce,
		Signature: p.Signature[:],
	})
}

func decodePropose(payload []byte) (*consensus.Propose, error) {
	var w proposeWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	pub, err := crypto.PublicKeyFromBytes(w.PubKey)
	if err != nil {
		return nil, err
	}
	p := &consensus.Propose{
		Height:             w.Height,
		ID:                 consensus.LongID(w.ID),
		Timestamp:          time.Unix(w.Timestamp, 0),
		GeneratorPublicKey: pub,
		Address:            w.Address,
		Nonce:              w.Nonce,
	}
	copy(p.Hash[:], w.Hash)
	copy(p.Signature[:], w.Signature)
	return p, nil
}

func encodeVote(v *consensus.Vote) ([]byte, error) {
	w := voteWire{Height: v.Height, ID: string(v.ID), Timestamp: v.Timestamp.Unix()}
	for _, sig := range v.Signatures {
		w.Signatures = append(w.Signatures, voteSignatureWire{PubKey: sig.Key.Bytes(), Sig: sig.Sig[:]})
	}
	return json.Marshal(w)
}

func decodeVote(payload []byte) (*consensus.Vote, error) {
	var w voteWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	v := &consensus.Vote{Height: w.Height, ID: consensus.LongID(w.ID), Timestamp: time.Unix(w.Timestamp, 0)}
	for _, sw := range w.Signatures {
		pub, err := crypto.PublicKeyFromBytes(sw.PubKey)
		if err != nil {
			continue
		}
		var sig consensus.VoteSignature
		sig.Key = pub
		copy(sig.Sig[:], sw.Sig)
		v.Signatures = append(v.Signatures, sig)
	}
	return v, nil
}

// subscribe registers the propose/vote gossip handlers that drive the
// consensus engine's accept/aggregate path.
func (n *nodeRuntime) subscribe() {
	n.gossip.Subscribe(topicPropose, func(msg gossip.Message, _ dht.Node) bool {
		p, err := decodePropose(msg.Payload)
		if err != nil {
			n.logger.Debug("noded: malformed propose", slog.Any("error", err))
			return false
		}
		if kind := n.engine.AcceptPropose(p); kind != consensus.OK {
			observability.ConsensusMetrics().RecordProposalRejected(string(kind))
			return false
		}
		observability.ConsensusMetrics().RecordProposalAccepted(p.Address)
		n.engine.SetPendingBlock(&consensus.BlockHeader{
			Height:             p.Height,
			ID:                 p.ID,
			Timestamp:          p.Timestamp,
			GeneratorPublicKey: p.GeneratorPublicKey,
		})

		vote, kind := n.engine.CreateVotes([]*crypto.PrivateKey{n.validatorKey}, consensus.BlockHeader{
			Height: p.Height, ID: p.ID, Timestamp: p.Timestamp, GeneratorPublicKey: p.GeneratorPublicKey,
		})
		if kind != consensus.OK {
			return true
		}
		payload, err := encodeVote(vote)
		if err != nil {
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		_ = n.gossip.Publish(ctx, topicVote, payload)
		return true
	})

	n.gossip.Subscribe(topicVote, func(msg gossip.Message, _ dht.Node) bool {
		v, err := decodeVote(msg.Payload)
		if err != nil {
			n.logger.Debug("noded: malformed vote", slog.Any("error", err))
			return false
		}
		wasCommittable := n.engine.Phase() == consensus.PhaseCommittable
		merged, kind := n.engine.AddPendingVotes(v)
		if kind != consensus.OK {
			observability.ConsensusMetrics().RecordProposalRejected(string(kind))
			return false
		}
		observability.ConsensusMetrics().RecordVotesAggregated(len(v.Signatures))
		if !wasCommittable && n.engine.HasEnoughVotes(merged) {
			observability.ConsensusMetrics().RecordSlotCommitted()
		}
		// Relay policy for the "votes" topic only: keep propagating remote
		// vote bundles one more hop until the lighter, gossip-only
		// threshold is met, independent of local commit finality.
		return !n.engine.HasEnoughVotesRemote(merged)
	})
}

// runSlotLoop ticks on slot boundaries, and when the local validator is
// the elected delegate for the new slot (by a simple round-robin stand-in
// for the out-of-scope block production scheduler), builds and
// broadcasts a proposal.
func (n *nodeRuntime) runSlotLoop(ctx context.Context) {
	ticker := time.NewTicker(n.slotClock.SlotLength())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n.tick(ctx, now)
		}
	}
}

func (n *nodeRuntime) tick(ctx context.Context, now time.Time) {
	slotNum := n.slotClock.SlotOf(now)
	if slotNum == n.lastSlot {
		return
	}
	n.lastSlot = slotNum
	n.engine.ClearState()

	size := n.delegateIndex.Size()
	if size == 0 {
		return
	}
	leaderIdx := uint32(slotNum % uint64(size))
	localIdx, err := n.delegateIndex.IndexOf(n.validatorKey.PubKey().Bytes())
	if err != nil || localIdx != leaderIdx {
		return
	}

	block := consensus.BlockHeader{
		Height:             slotNum,
		ID:                 consensus.ShortID(slotNum),
		Timestamp:          now,
		GeneratorPublicKey: n.validatorKey.PubKey(),
	}
	mintCtx, cancel := context.WithTimeout(ctx, n.slotClock.PowTimeout())
	defer cancel()
	propose, kind := n.engine.CreatePropose(mintCtx, n.validatorKey, block, n.overlay.Self().Addr())
	if kind != consensus.OK {
		observability.ConsensusMetrics().RecordProposalRejected(string(kind))
		return
	}
	n.engine.SetPendingBlock(&block)

	payload, err := encodePropose(propose)
	if err != nil {
		return
	}
	_ = n.gossip.Publish(ctx, topicPropose, payload)
}

// runPeerHealthLoop periodically issues a "ping" peer RPC against a
// random healthy peer, exercising the point-to-point client (spec
// component C9) independent of the gossip broadcast path; failures only
// feed the overlay metrics, never consensus state.
func (n *nodeRuntime) runPeerHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nodes := n.overlay.HealthyNodes()
			if len(nodes) == 0 {
				continue
			}
			candidates := make([]rpcclient.Contact, 0, len(nodes))
			for _, node := range nodes {
				candidates = append(candidates, rpcclient.Contact{Host: node.Host, Port: node.Port})
			}
			var result map[string]string
			start := time.Now()
			err := n.rpcClient.RandomRequest(ctx, "ping", nil, candidates, &result)
			observability.OverlayMetrics().ObservePeerRPCLatency("ping", time.Since(start))
			if err != nil {
				var rpcErr *rpcclient.Error
				if errors.As(err, &rpcErr) && rpcErr.Kind == rpcclient.Timeout {
					observability.OverlayMetrics().RecordPeerRPCTimeout()
				}
				n.logger.Debug("noded: peer health ping failed", slog.Any("error", err))
			}
		}
	}
}

func loadSeedsFile(path string) ([]string, error) {
	resolved, err := seeds.LoadFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resolved))
	for _, s := range resolved {
		out = append(out, s.Address)
	}
	return out, nil
}
