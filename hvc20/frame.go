package hvc20

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/snksoft/crc"
)

// frames are encoded as [SOF][BODY][EOF].  the body is
// [UNIT] [OP] [0..n payload bytes] [CRC16]
// with special characters escaped so the framing bytes never appear inside
// the body.  CRC is CRC-16/CCITT XMODEM over the unescaped body.

const (
	// frameStart is the start of frame byte
	frameStart = 0x0D

	// frameEnd is the end of frame byte
	frameEnd = 0x0A

	// escMarker introduces an escaped special character
	escMarker = 0x5E

	// escShift is the amount special characters are shifted up.
	// special characters max out at 0x5E, so we will never overflow
	escShift = 0x40
)

// crate opcodes
const (
	opPing  = 0x01
	opReset = 0x02
	opInfo  = 0x03
	opLatch = 0x04

	opSetHV    = 0x10
	opSetDAC6  = 0x11
	opSetDAC20 = 0x12
	opSetReg   = 0x13
	opFlood    = 0x14
)

// response leading bytes
const (
	ack = 0x06
	nak = 0x15
)

var (
	// specialChars must be escaped inside a frame body
	specialChars = []byte{frameEnd, frameStart, escMarker}

	crcTable = crc.NewTable(crc.XMODEM)

	// ErrBadFrame is generated when a response is structurally invalid
	ErrBadFrame = errors.New("malformed frame")

	// ErrCRC is generated when a response fails its CRC check; crate state
	// is unknown
	ErrCRC = errors.New("CRC mismatch, data lost in transmission")
)

// message is the raw content of a frame before escaping and CRC.
type message struct {
	Unit byte
	Op   byte
	Data []byte
}

func escape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if bytes.Contains(specialChars, []byte{b}) {
			out = append(out, escMarker, b+escShift)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	subNext := false
	for _, b := range data {
		if b == escMarker && !subNext {
			subNext = true
			continue
		}
		if subNext {
			b = b - escShift
			subNext = false
		}
		out = append(out, b)
	}
	return out
}

func crcBytes(body []byte) []byte {
	v := crcTable.CalculateCRC(body)
	return []byte{byte(v >> 8), byte(v)}
}

// makeFrame produces a start-of-frame byte followed by the escaped,
// CRC-protected body.  The link layer appends the end-of-frame byte.
func makeFrame(m message) []byte {
	body := append([]byte{m.Unit, m.Op}, m.Data...)
	body = append(body, crcBytes(body)...)
	return append([]byte{frameStart}, escape(body)...)
}

// decodeFrame renders a received frame (end byte already stripped by the
// link layer) into a message, verifying the CRC.  Any line noise before the
// start byte is dropped.
func decodeFrame(raw []byte) (message, error) {
	iStart := bytes.IndexByte(raw, frameStart)
	if iStart < 0 {
		return message{}, fmt.Errorf("%w: start byte %#02x not found", ErrBadFrame, frameStart)
	}
	body := unescape(raw[iStart+1:])
	if len(body) < 4 {
		return message{}, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(body))
	}
	split := len(body) - 2
	if !bytes.Equal(body[split:], crcBytes(body[:split])) {
		return message{}, ErrCRC
	}
	body = body[:split]
	return message{Unit: body[0], Op: body[1], Data: body[2:]}, nil
}
