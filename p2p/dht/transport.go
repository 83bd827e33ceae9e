package dht

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// WireMessage is the envelope carried over every DHT/gossip websocket
// connection. Kind distinguishes routing-table traffic ("nodes", a list of
// nodes to add) from application broadcast traffic ("broadcast"), letting
// the Overlay and the gossip layer share one transport. The Overlay
// ignores messages of any other kind.
type WireMessage struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Conn is a bidirectional framed connection to one peer, replacing the
// teacher's raw bufio-framed TCP (p2p/server.go) with a websocket
// connection — a better fit once payloads carry arbitrary gossip bytes
// rather than fixed-format protocol frames.
type Conn struct {
	ws   *websocket.Conn
	addr string
}

// Addr returns the remote peer's dial address.
func (c *Conn) Addr() string { return c.addr }

// Send writes one WireMessage as a JSON text frame.
func (c *Conn) Send(ctx context.Context, msg WireMessage) error {
	blob, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, blob)
}

// Recv blocks for the next WireMessage.
func (c *Conn) Recv(ctx context.Context) (WireMessage, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return WireMessage{}, err
	}
	var msg WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return WireMessage{}, fmt.Errorf("dht: decode wire message: %w", err)
	}
	return msg, nil
}

// Close closes the underlying websocket connection with a normal closure.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "closing")
}

// DialTimeout bounds the handshake portion of an outbound connection
// attempt; steady-state reads/writes use the caller's context instead.
const DialTimeout = 5 * time.Second

// Dial opens a websocket connection to addr ("host:port").
func Dial(ctx context.Context, addr string) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	url := "ws://" + addr + "/overlay"
	ws, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dht: dial %s: %w", addr, err)
	}
	ws.SetReadLimit(8 << 20)
	return &Conn{ws: ws, addr: addr}, nil
}

// ListenAndServe runs the overlay's inbound websocket listener, invoking
// onConn for every accepted connection. It blocks until the http.Server's
// context is canceled or ListenAndServe itself returns an error.
func ListenAndServe(ctx context.Context, listenAddr string, onConn func(*Conn)) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/overlay", func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // transport encryption is explicitly a non-goal
		})
		if err != nil {
			return
		}
		ws.SetReadLimit(8 << 20)
		onConn(&Conn{ws: ws, addr: r.RemoteAddr})
	})
	server := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
