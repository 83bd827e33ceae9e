// Package rpcclient implements the point-to-point peer RPC client (spec
// component C9): a request to a selected peer's HTTP surface at
// peerPort-1, carrying magic/version headers and a JSON body.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrorKind mirrors the taxonomy in spec §7 for the RPC boundary.
type ErrorKind string

const (
	Timeout     ErrorKind = "timeout"
	HttpNon200  ErrorKind = "http_non_200"
	Transport   ErrorKind = "transport"
)

// Error wraps an ErrorKind with the underlying cause, if any.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rpcclient: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("rpcclient: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Contact identifies a peer to dial: the peer-RPC listener sits at
// host:(port-1) on every node, per the fixed port convention in spec §4.7.
type Contact struct {
	Host string
	Port uint16
}

func (c Contact) rpcAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)-1))
}

// Client issues peer RPC requests.
type Client struct {
	httpClient *http.Client
	magic      string
	version    string
}

// New constructs a Client. magic and version are attached as headers to
// every outbound request so peers can gate on network identity and
// protocol compatibility (see p2p/version).
func New(magic, version string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		magic:      magic,
		version:    version,
	}
}

// Request issues method against contact with params as the JSON body,
// decoding the response into result (if non-nil).
func (c *Client) Request(ctx context.Context, method string, params any, contact Contact, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return &Error{Kind: Transport, Err: err}
	}

	url := fmt.Sprintf("http://%s/peer/%s", contact.rpcAddr(), method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: Transport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("magic", c.magic)
	req.Header.Set("version", c.version)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Kind: Timeout, Err: err}
		}
		return &Error{Kind: Transport, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: Transport, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: HttpNon200, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))}
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &Error{Kind: Transport, Err: err}
		}
	}
	return nil
}

// randomRequestCap is the hard wall-clock cap for RandomRequest,
// independent of any per-request HTTP client timeout (spec §4.7).
const randomRequestCap = 4 * time.Second

// RandomRequest picks one contact at random from candidates and issues
// method against it, enforcing a 4-second cap regardless of the client's
// configured HTTP timeout.
func (c *Client) RandomRequest(ctx context.Context, method string, params any, candidates []Contact, result any) error {
	if len(candidates) == 0 {
		return &Error{Kind: Transport, Err: errors.New("no candidate peers")}
	}
	ctx, cancel := context.WithTimeout(ctx, randomRequestCap)
	defer cancel()
	contact := candidates[rand.Intn(len(candidates))]
	return c.Request(ctx, method, params, contact, result)
}
