// Package wire implements the binary framing dialect used on the control
// socket between a dfork-managed command tree's supervisor and the
// caller (spec.md §4.4). Two dialects exist in the system this package
// was modeled on; this package implements only the newer, preferred
// binary one end to end, and rejects anything else.
package wire

import (
	"encoding/binary"
	"fmt"
)

// InboundSize is the exact length, in bytes, of a non-hangup inbound
// datagram. Anything else is a framing error.
const InboundSize = 16

// OutboundSize is the exact length, in bytes, of an outbound signal
// command datagram.
const OutboundSize = 8

// Inbound mirrors the si_code/si_pid/si_uid/si_status fields of a
// siginfo_t, laid out as four little-endian 32-bit words (see
// original_source/python/ffibuilder.py's cdef for the fields this is
// modeled on; the remaining siginfo_t fields are not part of the wire
// contract).
type Inbound struct {
	Code   int32
	Pid    int32
	Uid    uint32
	Status int32
}

// ErrBadFrame is returned when a datagram's length doesn't match the
// dialect's fixed record size.
var ErrBadFrame = fmt.Errorf("wire: malformed frame")

// DecodeInbound parses a single supervisor -> caller datagram. An empty
// buf is not valid input to this function; callers must treat a
// zero-length recv() as hangup before calling DecodeInbound.
func DecodeInbound(buf []byte) (Inbound, error) {
	if len(buf) != InboundSize {
		return Inbound{}, fmt.Errorf("%w: want %d bytes, got %d", ErrBadFrame, InboundSize, len(buf))
	}

	return Inbound{
		Code:   int32(binary.LittleEndian.Uint32(buf[0:4])),
		Pid:    int32(binary.LittleEndian.Uint32(buf[4:8])),
		Uid:    binary.LittleEndian.Uint32(buf[8:12]),
		Status: int32(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}

// EncodeInbound is the inverse of DecodeInbound. It exists primarily so
// tests (and a reference "supervise" stand-in) can synthesize frames
// without duplicating the layout.
func EncodeInbound(in Inbound) []byte {
	buf := make([]byte, InboundSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(in.Code))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(in.Pid))
	binary.LittleEndian.PutUint32(buf[8:12], in.Uid)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(in.Status))
	return buf
}

// EncodeOutbound frames a "deliver signal to pid" command for the
// caller -> supervisor direction.
func EncodeOutbound(pid int, signal int) []byte {
	buf := make([]byte, OutboundSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(pid))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(signal))
	return buf
}

// DecodeOutbound is the inverse of EncodeOutbound, used by test doubles
// standing in for the supervisor side of the socket.
func DecodeOutbound(buf []byte) (pid int, signal int, err error) {
	if len(buf) != OutboundSize {
		return 0, 0, fmt.Errorf("%w: want %d bytes, got %d", ErrBadFrame, OutboundSize, len(buf))
	}

	pid = int(int32(binary.LittleEndian.Uint32(buf[0:4])))
	signal = int(int32(binary.LittleEndian.Uint32(buf[4:8])))
	return pid, signal, nil
}
