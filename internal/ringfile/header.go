package ringfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// File layout (all integers big-endian):
//
//	[0, 64)     header slot 0
//	[64, 128)   header slot 1
//	[128, len)  circular data region of elements: uint32 length + payload
//
// Each slot holds:
//
//	magic(4) crc32(4) seq(8) fileLength(8) count(8) first(8) tail(8)
//
// A commit writes the next sequence number into slot seq%2. On open the valid
// slot with the highest sequence wins, so a torn slot write falls back to the
// previous commit.
const (
	headerLength        = 128
	slotSize            = 64
	slotPayload         = 48
	elementHeaderLength = 4
	initialLength       = 4096

	headerMagic uint32 = 0x53505131 // "SPQ1"
)

var (
	errBadMagic = errors.New("bad magic")
	errChecksum = errors.New("checksum mismatch")
)

// Header is the committed state of a queue file.
type Header struct {
	Seq        uint64
	FileLength int64
	Count      int64
	First      int64 // offset of the oldest element
	Tail       int64 // offset immediately after the newest element
}

func slotOffset(seq uint64) int64 {
	return int64(seq%2) * slotSize
}

func (h Header) encode(b []byte) {
	clear(b[:slotSize])
	binary.BigEndian.PutUint32(b[0:4], headerMagic)
	binary.BigEndian.PutUint64(b[8:16], h.Seq)
	binary.BigEndian.PutUint64(b[16:24], uint64(h.FileLength))
	binary.BigEndian.PutUint64(b[24:32], uint64(h.Count))
	binary.BigEndian.PutUint64(b[32:40], uint64(h.First))
	binary.BigEndian.PutUint64(b[40:48], uint64(h.Tail))
	binary.BigEndian.PutUint32(b[4:8], crc32.ChecksumIEEE(b[8:slotPayload]))
}

func decodeHeader(b []byte) (Header, error) {
	if binary.BigEndian.Uint32(b[0:4]) != headerMagic {
		return Header{}, errBadMagic
	}
	if binary.BigEndian.Uint32(b[4:8]) != crc32.ChecksumIEEE(b[8:slotPayload]) {
		return Header{}, errChecksum
	}
	return Header{
		Seq:        binary.BigEndian.Uint64(b[8:16]),
		FileLength: int64(binary.BigEndian.Uint64(b[16:24])),
		Count:      int64(binary.BigEndian.Uint64(b[24:32])),
		First:      int64(binary.BigEndian.Uint64(b[32:40])),
		Tail:       int64(binary.BigEndian.Uint64(b[40:48])),
	}, nil
}

// validate checks the header against the actual size of the file on disk.
func (h Header) validate(fileSize int64) error {
	if h.FileLength < initialLength || h.FileLength&(h.FileLength-1) != 0 {
		return fmt.Errorf("%w; length stored in header (%d) is invalid", ErrCorrupt, h.FileLength)
	}
	if h.FileLength > fileSize {
		return fmt.Errorf("%w; length stored in header (%d) exceeds file size (%d)", ErrCorrupt, h.FileLength, fileSize)
	}
	if h.Count < 0 {
		return fmt.Errorf("%w; element count stored in header (%d) is invalid", ErrCorrupt, h.Count)
	}
	if h.First < headerLength || h.First >= h.FileLength {
		return fmt.Errorf("%w; first position stored in header (%d) is invalid", ErrCorrupt, h.First)
	}
	if h.Tail < headerLength || h.Tail >= h.FileLength {
		return fmt.Errorf("%w; last position stored in header (%d) is invalid", ErrCorrupt, h.Tail)
	}
	if h.Count == 0 && h.First != h.Tail {
		return fmt.Errorf("%w; empty queue with first (%d) != last (%d)", ErrCorrupt, h.First, h.Tail)
	}
	return nil
}

// pickHeader returns the newest valid header from the two slots in buf.
func pickHeader(buf []byte, fileSize int64) (Header, error) {
	var (
		best     Header
		found    bool
		firstErr error
	)
	for slot := 0; slot < 2; slot++ {
		h, err := decodeHeader(buf[slot*slotSize : (slot+1)*slotSize])
		if err == nil {
			err = h.validate(fileSize)
		}
		if err != nil {
			if firstErr == nil && !errors.Is(err, errBadMagic) && !errors.Is(err, errChecksum) {
				firstErr = err
			}
			continue
		}
		if !found || h.Seq > best.Seq {
			best = h
			found = true
		}
	}
	if found {
		return best, nil
	}
	if firstErr != nil {
		return Header{}, firstErr
	}
	return Header{}, fmt.Errorf("%w; no valid header found", ErrCorrupt)
}
