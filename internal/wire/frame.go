// Package wire implements the length-prefixed, hash-verified binary frame
// protocol used by every connection: a fixed header (network byte order)
// followed by an arbitrary payload.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

// Type is the frame payload discriminator.
type Type int32

const (
	TypeUnknown Type = iota
	TypeText
	TypeBinary
	TypeFileStream
	TypeHeartBeat
)

// HeaderSize is the fixed byte length of everything before the payload:
// length(4) + type(4) + sequenceSize(4) + sequence(4) + requestID(8) + verifyCode(8).
const HeaderSize = 4 + 4 + 4 + 4 + 8 + 8

// MaxFrameLength rejects frames larger than INT32_MAX/2, per the framing
// error taxonomy's data_too_large case.
const MaxFrameLength = (1<<31 - 1) / 2

var (
	ErrDataTooSmall  = errors.New("data_too_small")
	ErrInvalidData   = errors.New("invalid_data")
	ErrDataTooLarge  = errors.New("data_too_large")
	ErrHashMismatch  = errors.New("hash_mismatched")
	ErrEmptyLength   = errors.New("empty_length")
	ErrIncompletePkg = errors.New("incomplete_package")
)

// Frame is one assembled wire packet.
type Frame struct {
	Type         Type
	SequenceSize int32
	Sequence     int32
	RequestID    int64
	Payload      []byte
}

// verifyCode computes the deterministic 64-bit integrity hash over a
// payload. xxhash64 is a fast, non-cryptographic hash, sufficient for the
// frame codec's contract, which only requires both sides to agree.
func verifyCode(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// Marshal serializes a Frame into its wire representation, including the
// computed verify-code and total length prefix.
func Marshal(f Frame) ([]byte, error) {
	total := HeaderSize + len(f.Payload)
	if total > MaxFrameLength {
		return nil, ErrDataTooLarge
	}
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	binary.BigEndian.PutUint32(buf[4:8], uint32(f.Type))
	binary.BigEndian.PutUint32(buf[8:12], uint32(f.SequenceSize))
	binary.BigEndian.PutUint32(buf[12:16], uint32(f.Sequence))
	binary.BigEndian.PutUint64(buf[16:24], uint64(f.RequestID))
	binary.BigEndian.PutUint64(buf[24:32], verifyCode(f.Payload))
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// Unmarshal parses exactly one frame from b, which must contain precisely
// one well-formed frame (length-prefix included). Use Assembler to pull
// frames out of a stream.
func Unmarshal(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, ErrDataTooSmall
	}
	length := binary.BigEndian.Uint32(b[0:4])
	if length == 0 {
		return Frame{}, ErrEmptyLength
	}
	if int(length) != len(b) {
		return Frame{}, ErrInvalidData
	}
	if length > MaxFrameLength {
		return Frame{}, ErrDataTooLarge
	}
	f := Frame{
		Type:         Type(binary.BigEndian.Uint32(b[4:8])),
		SequenceSize: int32(binary.BigEndian.Uint32(b[8:12])),
		Sequence:     int32(binary.BigEndian.Uint32(b[12:16])),
		RequestID:    int64(binary.BigEndian.Uint64(b[16:24])),
	}
	wantHash := binary.BigEndian.Uint64(b[24:32])
	f.Payload = append([]byte(nil), b[HeaderSize:]...)
	if verifyCode(f.Payload) != wantHash {
		return Frame{}, ErrHashMismatch
	}
	return f, nil
}
