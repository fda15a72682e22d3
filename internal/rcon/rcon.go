// Package rcon implements the Source RCON protocol used to issue
// administrative commands to a running game-server process.
//
// Each instance gets at most one authenticated TCP connection, held in a
// Pool and dialed lazily on first use. Commands on the same connection are
// serialized strictly in submission order; the protocol multiplexes by
// sequence id and interleaving requests would break request/response
// pairing.
package rcon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// Sentinel errors for RCON operations.
var (
	// ErrUnreachable is returned when the control port cannot be reached
	// or authentication is rejected.
	ErrUnreachable = errors.New("rcon unreachable")

	// ErrTimeout is returned when a response does not arrive within the
	// exec timeout. The connection is invalidated and redialed on the
	// next call.
	ErrTimeout = errors.New("rcon timeout")
)

// Packet types defined by the Source RCON protocol.
const (
	typeAuth          int32 = 3
	typeAuthResponse  int32 = 2
	typeExecCommand   int32 = 2
	typeResponseValue int32 = 0
)

// authFailedID is the request id echoed back on a rejected password.
const authFailedID int32 = -1

// maxPacketSize bounds a single RCON packet body.
const maxPacketSize = 4096

// packet is a single RCON frame.
type packet struct {
	id   int32
	kind int32
	body string
}

// writePacket serializes a packet to w: little-endian size, id, type, body,
// two trailing NULs.
func writePacket(w io.Writer, p packet) error {
	size := int32(len(p.body) + 10)
	buf := make([]byte, 0, size+4)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.id))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.kind))
	buf = append(buf, p.body...)
	buf = append(buf, 0, 0)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

// readPacket reads a single packet from r.
func readPacket(r io.Reader) (packet, error) {
	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return packet{}, fmt.Errorf("read packet size: %w", err)
	}
	if size < 10 || size > maxPacketSize {
		return packet{}, fmt.Errorf("invalid packet size %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return packet{}, fmt.Errorf("read packet payload: %w", err)
	}

	return packet{
		id:   int32(binary.LittleEndian.Uint32(payload[0:4])),
		kind: int32(binary.LittleEndian.Uint32(payload[4:8])),
		body: string(payload[8 : size-2]),
	}, nil
}

// classify maps transport errors to the package sentinels.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
