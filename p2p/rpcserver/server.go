// Package rpcserver exposes the peer HTTP surface described in spec §6:
// POST /peer/<method>, GET /api/peers, GET /api/peers/version, and
// POST /api/p2phelper (self-IP discovery).
package rpcserver

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"solidus/p2p/dht"
	peerversion "solidus/p2p/version"
)

// MethodHandler processes one "POST /peer/<method>" call, given the
// decoded JSON body, and returns a JSON-serializable response or an error.
type MethodHandler func(body json.RawMessage) (any, error)

// VersionInfo is the payload returned by GET /api/peers/version.
type VersionInfo struct {
	Version string `json:"version"`
	Build   string `json:"build"`
	Net     string `json:"net"`
}

// Server wires the peer HTTP surface onto a chi router.
type Server struct {
	router  chi.Router
	overlay *dht.Overlay
	magic   string
	info    VersionInfo
	minimum string
	logger  *slog.Logger

	methods map[string]MethodHandler
}

// New constructs a Server bound to overlay for peer listings. minimum is
// the network's required peer protocol version (p2p/version.MinimumMainnet
// or MinimumTestnet).
func New(overlay *dht.Overlay, magic string, info VersionInfo, minimum string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		overlay: overlay,
		magic:   magic,
		info:    info,
		minimum: minimum,
		logger:  logger,
		methods: make(map[string]MethodHandler),
	}
	s.router = s.buildRouter()
	return s
}

// RegisterMethod adds a handler reachable at POST /peer/<name>.
func (s *Server) RegisterMethod(name string, handler MethodHandler) {
	s.methods[name] = handler
}

// Handler returns the http.Handler to mount, instrumented with otelhttp
// for tracing (ported from the teacher's cmd/p2pd wiring).
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "peer-rpc")
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.versionGate)

	r.Post("/peer/{method}", s.handlePeerMethod)
	r.Get("/api/peers", s.handleListPeers)
	r.Get("/api/peers/version", s.handleVersion)
	r.Post("/api/p2phelper", s.handleHelper)
	return r
}

func (s *Server) versionGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if magic := r.Header.Get("magic"); magic != "" && magic != s.magic {
			http.Error(w, "magic mismatch", http.StatusForbidden)
			return
		}
		if v := r.Header.Get("version"); v != "" && !peerversion.Compatible(v, s.minimum) {
			http.Error(w, "incompatible version", http.StatusUpgradeRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePeerMethod(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")
	handler, ok := s.methods[method]
	if !ok {
		http.Error(w, "unknown method", http.StatusNotFound)
		return
	}
	var body json.RawMessage
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	result, err := handler(body)
	if err != nil {
		s.logger.Debug("rpcserver: method failed", "method", method, "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, result)
}

const maxListedPeers = 100

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	nodes := s.overlay.HealthyNodes()
	if len(nodes) > maxListedPeers {
		nodes = nodes[:maxListedPeers]
	}
	type peerView struct {
		ID   string `json:"id"`
		Host string `json:"host"`
		Port uint16 `json:"port"`
	}
	out := make([]peerView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, peerView{ID: hexID(n.ID), Host: n.Host, Port: n.Port})
	}
	writeJSON(w, out)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.info)
}

// handleHelper returns the caller's observed remote IP, used for self-IP
// discovery per spec §6's "acquireip" config flag.
func (s *Server) handleHelper(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	writeJSON(w, map[string]string{"ip": host})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func hexID(id [20]byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 40)
	for i, b := range id {
		out[i*2] = digits[b>>4]
		out[i*2+1] = digits[b&0x0f]
	}
	return string(out)
}
