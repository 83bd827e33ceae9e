// Package propcodec implements the deterministic big-endian byte
// serializations used to compute proposal and vote hashes. These byte
// layouts are a wire/hash contract, not a general-purpose encoding: every
// field width and order is fixed by the consensus rules and must never
// change independently of a protocol version bump.
package propcodec

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// EnvContext snapshots the process-wide feature flags that influence codec
// output. It must be captured once per hash operation and passed down
// explicitly so that two concurrent rounds can never straddle a flag flip
// (see the "global mutable state" design note).
type EnvContext struct {
	// EnableLongID selects the BlockID encoding: true writes id as raw
	// UTF-8 bytes, false parses id as a decimal integer and writes it as
	// 8 bytes big-endian.
	EnableLongID bool
}

// VoteHashBytes serializes (height, id) per spec §4.2: height as 8-byte
// signed big-endian, followed by id in long-id or short-id form depending
// on env.EnableLongID.
func VoteHashBytes(env EnvContext, height int64, id string) ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(height))

	idBytes, err := encodeID(env, id)
	if err != nil {
		return nil, err
	}
	return append(buf, idBytes...), nil
}

// ProposeInput carries the fields ProposeHashBytes needs to build the
// pre-PoW digest. GeneratorPublicKey must be exactly 32 bytes.
type ProposeInput struct {
	Height             int64
	ID                 string
	GeneratorPublicKey []byte
	Timestamp          int32
	Address            string // "<ipv4>:<port>"
}

// ProposeHashBytes serializes a proposal per spec §4.2. It rejects
// addresses that are not exactly "<ipv4>:<port>".
func ProposeHashBytes(env EnvContext, in ProposeInput) ([]byte, error) {
	if len(in.GeneratorPublicKey) != 32 {
		return nil, fmt.Errorf("propcodec: generator public key must be 32 bytes, got %d", len(in.GeneratorPublicKey))
	}
	ipBytes, portBytes, err := encodeAddress(in.Address)
	if err != nil {
		return nil, err
	}

	heightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBytes, uint64(in.Height))

	idBytes, err := encodeID(env, in.ID)
	if err != nil {
		return nil, err
	}

	tsBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(tsBytes, uint32(in.Timestamp))

	out := make([]byte, 0, 8+len(idBytes)+32+4+4+4)
	out = append(out, heightBytes...)
	out = append(out, idBytes...)
	out = append(out, in.GeneratorPublicKey...)
	out = append(out, tsBytes...)
	out = append(out, ipBytes...)
	out = append(out, portBytes...)
	return out, nil
}

func encodeID(env EnvContext, id string) ([]byte, error) {
	if env.EnableLongID {
		return []byte(id), nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("propcodec: short-id mode requires a decimal integer id: %w", err)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf, nil
}

// encodeAddress parses "<ipv4>:<port>" into a 4-byte big-endian IPv4
// representation and a 4-byte big-endian port.
func encodeAddress(address string) (ip []byte, port []byte, err error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, nil, fmt.Errorf("propcodec: address must be <ipv4>:<port>: %w", err)
	}
	parsed := net.ParseIP(host)
	v4 := parsed.To4()
	if v4 == nil {
		return nil, nil, fmt.Errorf("propcodec: address host %q is not a valid IPv4 dotted-quad", host)
	}
	portNum, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil || portNum > 0xFFFFFFFF {
		return nil, nil, fmt.Errorf("propcodec: invalid port %q", portStr)
	}

	ipBuf := make([]byte, 4)
	copy(ipBuf, v4)
	portBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(portBuf, uint32(portNum))
	return ipBuf, portBuf, nil
}
