package dht

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Periodic intervals mandated by spec §4.5.
const (
	SavePeersInterval     = 60 * time.Second
	CheckBucketOutdate    = 180 * time.Second
	ReconnectSeedInterval = 30 * time.Second
	gossipFanout          = 20
)

// Overlay is the Kademlia-like DHT node (spec component C7): it owns the
// live routing Table, the persisted Store, bootstrap/blacklist membership,
// and the websocket Transport, and exposes onNodeAdded/onNodeRemoved/
// onBroadcast to its owner (the gossip layer — see the "DHT back-reference
// to consensus" design note: the DHT never imports gossip or consensus).
type Overlay struct {
	mu sync.RWMutex

	self       Node
	table      *Table
	store      *Store
	bootstrap  []string
	blacklist  map[string]struct{}
	persistent map[string]struct{}
	conns      map[[20]byte]*Conn

	publicIP string

	onNodeAdded   func(Node)
	onNodeRemoved func(id [20]byte, reason string)
	onBroadcast   func(msg WireMessage, from Node)

	ingestLimiter *rate.Limiter
	logger        *slog.Logger

	stopCh chan struct{}
	stopOnce sync.Once
}

// Config configures a new Overlay.
type Config struct {
	SelfHost       string
	SelfPort       uint16
	Bootstrap      []string // "host:port" seeds
	BlackList      []string // hosts
	Persistent     []string // "host:port" always-connected peers
	Store          *Store
	IngestRateHz   float64
	Logger         *slog.Logger
}

// NewOverlay constructs an Overlay over cfg, deriving the local node id
// from SelfHost:SelfPort.
func NewOverlay(cfg Config) *Overlay {
	self := NewNode(cfg.SelfHost, cfg.SelfPort, time.Now())
	bl := make(map[string]struct{}, len(cfg.BlackList))
	for _, h := range cfg.BlackList {
		bl[h] = struct{}{}
	}
	persistent := make(map[string]struct{}, len(cfg.Persistent))
	for _, p := range cfg.Persistent {
		persistent[p] = struct{}{}
	}
	if cfg.IngestRateHz <= 0 {
		cfg.IngestRateHz = 200
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Overlay{
		self:          self,
		table:         NewTable(self.ID),
		store:         cfg.Store,
		bootstrap:     append([]string(nil), cfg.Bootstrap...),
		blacklist:     bl,
		persistent:    persistent,
		conns:         make(map[[20]byte]*Conn),
		publicIP:      cfg.SelfHost,
		ingestLimiter: rate.NewLimiter(rate.Limit(cfg.IngestRateHz), int(cfg.IngestRateHz)),
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// OnNodeAdded registers a callback invoked whenever a node is inserted
// into the live table.
func (o *Overlay) OnNodeAdded(f func(Node)) { o.onNodeAdded = f }

// OnNodeRemoved registers a callback invoked whenever a node is evicted.
func (o *Overlay) OnNodeRemoved(f func(id [20]byte, reason string)) { o.onNodeRemoved = f }

// OnBroadcast registers the callback invoked for every inbound application
// message (gossip's entry point into the overlay).
func (o *Overlay) OnBroadcast(f func(msg WireMessage, from Node)) { o.onBroadcast = f }

// Self returns the local node record.
func (o *Overlay) Self() Node {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.self
}

// Run starts the listener and the periodic bootstrap/persistence/refresh/
// reconnect loops; it blocks until ctx is canceled.
func (o *Overlay) Run(ctx context.Context) error {
	if err := o.bootstrapFromStore(); err != nil {
		o.logger.Warn("dht: failed loading persisted nodes", "err", err)
	}
	o.reconnectSeeds(ctx)

	go o.flushLoop(ctx)
	go o.refreshLoop(ctx)
	go o.reconnectLoop(ctx)

	return ListenAndServe(ctx, o.self.Addr(), func(c *Conn) {
		go o.handleConn(ctx, c)
	})
}

// Close stops background loops. The listener itself is stopped by
// canceling the context passed to Run.
func (o *Overlay) Close() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

func (o *Overlay) bootstrapFromStore() error {
	if o.store == nil {
		return nil
	}
	nodes, err := o.store.LoadAll()
	if err != nil {
		return err
	}
	for _, n := range nodes {
		o.addNode(n)
	}
	return nil
}

func (o *Overlay) reconnectSeeds(ctx context.Context) {
	for _, addr := range o.bootstrap {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		n := NewNode(host, uint16(port), time.Now())
		if n.ID == o.self.ID {
			continue
		}
		if _, present := o.connFor(n.ID); present {
			continue
		}
		go o.dialAndRegister(ctx, n)
	}
}

func (o *Overlay) connFor(id [20]byte) (*Conn, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.conns[id]
	return c, ok
}

func (o *Overlay) dialAndRegister(ctx context.Context, n Node) {
	conn, err := Dial(ctx, n.Addr())
	if err != nil {
		o.logger.Debug("dht: dial failed", "addr", n.Addr(), "err", err)
		return
	}
	o.mu.Lock()
	o.conns[n.ID] = conn
	o.mu.Unlock()
	o.addNode(n)
	go o.handleConn(ctx, conn)
}

func (o *Overlay) handleConn(ctx context.Context, c *Conn) {
	defer func() {
		_ = c.Close()
	}()
	for {
		msg, err := c.Recv(ctx)
		if err != nil {
			return
		}
		if !o.ingestLimiter.Allow() {
			continue // drop, never block the consensus-facing event loop
		}
		host, _, err := net.SplitHostPort(c.Addr())
		if err == nil {
			if _, banned := o.blacklist[host]; banned {
				continue
			}
		}
		from := NewNode(host, 0, time.Now())
		switch msg.Kind {
		case "broadcast":
			if o.onBroadcast != nil {
				o.onBroadcast(msg, from)
			}
		case "nodes":
			var nodes []Node
			if err := json.Unmarshal(msg.Payload, &nodes); err == nil {
				for _, n := range nodes {
					o.addNode(n)
				}
			}
		}
	}
}

func (o *Overlay) addNode(n Node) {
	host, _, err := net.SplitHostPort(n.Addr())
	if err == nil {
		if _, banned := o.blacklist[host]; banned {
			return
		}
	}
	if !o.table.Insert(n) {
		return
	}
	if o.onNodeAdded != nil {
		o.onNodeAdded(n)
	}
}

// RemoveNode evicts id from the live table, notifying onNodeRemoved.
func (o *Overlay) RemoveNode(id [20]byte, reason string) {
	if o.table.Remove(id) && o.onNodeRemoved != nil {
		o.onNodeRemoved(id, reason)
	}
	o.mu.Lock()
	if c, ok := o.conns[id]; ok {
		_ = c.Close()
		delete(o.conns, id)
	}
	o.mu.Unlock()
}

// HealthyNodes returns liveNodes \ blackList \ {self}, deduplicated by
// host:port (spec §4.5's health filter).
func (o *Overlay) HealthyNodes() []Node {
	all := o.table.All()
	seenAddr := make(map[string]struct{}, len(all))
	out := make([]Node, 0, len(all))
	for _, n := range all {
		if n.ID == o.self.ID {
			continue
		}
		if _, banned := o.blacklist[n.Host]; banned {
			continue
		}
		addr := n.Addr()
		if _, dup := seenAddr[addr]; dup {
			continue
		}
		seenAddr[addr] = struct{}{}
		out = append(out, n)
	}
	return out
}

// randomSample returns n nodes drawn at random (without replacement) from
// nodes. Table.All() (and therefore HealthyNodes) orders nodes
// deterministically by bucket, so callers that truncate to a fixed-size
// fanout must sample first or every broadcast lands on the same subset.
func randomSample(nodes []Node, n int) []Node {
	if n >= len(nodes) {
		n = len(nodes)
	}
	idx := rand.Perm(len(nodes))[:n]
	out := make([]Node, n)
	for i, j := range idx {
		out[i] = nodes[j]
	}
	return out
}

// Broadcast delivers msg to up to fanout peers selected at random from the
// healthy set; selected peers with no open connection are skipped. If the
// healthy set is empty, msg is dropped and a reconnect to the bootstrap
// seeds is started; msg is not sent to them. Used by the gossip layer's
// publish operation.
func (o *Overlay) Broadcast(ctx context.Context, msg WireMessage, fanout int) {
	if fanout <= 0 {
		fanout = gossipFanout
	}
	targets := o.HealthyNodes()
	if len(targets) == 0 {
		o.reconnectSeeds(ctx)
		return
	}
	if len(targets) > fanout {
		targets = randomSample(targets, fanout)
	}
	for _, n := range targets {
		conn, ok := o.connFor(n.ID)
		if !ok {
			continue
		}
		_ = conn.Send(ctx, msg)
	}
}

func (o *Overlay) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(SavePeersInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			if o.store == nil {
				continue
			}
			if err := o.store.FlushSnapshot(o.table.All()); err != nil {
				o.logger.Warn("dht: flush snapshot failed", "err", err)
			}
		}
	}
}

func (o *Overlay) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(CheckBucketOutdate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-CheckBucketOutdate)
			// timeBucketOutdated is advisory only (spec §9 open question):
			// logged for operational visibility, never blocks a lookup.
			stale := o.table.OutdatedBuckets(cutoff)
			for _, idx := range stale {
				o.table.MarkBucketOutdated(idx, time.Now())
			}
			if len(stale) > 0 {
				o.logger.Debug("dht: stale buckets", "count", len(stale))
			}
		}
	}
}

func (o *Overlay) reconnectLoop(ctx context.Context) {
	ticker := time.NewTicker(ReconnectSeedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.reconnectSeeds(ctx)
		}
	}
}

// PublicIPChanged updates the overlay's externally-reported IP without
// re-keying the local node identity. This intentionally reproduces the
// stale-peer-table risk noted in spec §9: the node's RIPEMD-160 id remains
// bound to its original host string even after its address changes.
func (o *Overlay) PublicIPChanged(newIP string, port uint16, authoritative bool) {
	if !authoritative {
		return
	}
	o.mu.Lock()
	o.publicIP = newIP
	o.mu.Unlock()
	o.logger.Info("dht: public ip changed", "ip", newIP, "port", port)
}
