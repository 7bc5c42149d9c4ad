// Package protocol implements the broadcast endpoint frame format:
// a 16 byte big-endian header followed by a body whose encoding depends
// on the protocol version.
package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io"
)

const (
	HeaderLen = 16

	// Cap on a single inflated batch; anything larger is treated as garbage.
	maxInflated = 8 << 20
)

type Op uint32

const (
	OpHeartbeat      Op = 2
	OpHeartbeatReply Op = 3
	OpCommand        Op = 5
	OpJoin           Op = 7
	OpJoinReply      Op = 8
)

const (
	VersionJSON    uint16 = 0
	VersionInt     uint16 = 1
	VersionDeflate uint16 = 2
)

var (
	errShortHeader = errors.New("short header")
	errBadLength   = errors.New("bad packet length")
)

type Packet struct {
	Version uint16
	Op      Op
	Seq     uint32
	Body    []byte
}

// Marshal writes the packet with its header.
func (p Packet) Marshal() []byte {
	buf := make([]byte, HeaderLen+len(p.Body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	binary.BigEndian.PutUint16(buf[4:6], HeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], p.Version)
	binary.BigEndian.PutUint32(buf[8:12], uint32(p.Op))
	binary.BigEndian.PutUint32(buf[12:16], p.Seq)
	copy(buf[HeaderLen:], p.Body)
	return buf
}

// split reads consecutive packets from data. On a malformed packet it
// returns what was parsed so far together with the error.
func split(data []byte) ([]Packet, error) {
	var out []Packet
	for len(data) > 0 {
		if len(data) < HeaderLen {
			return out, errShortHeader
		}
		total := int(binary.BigEndian.Uint32(data[0:4]))
		hlen := int(binary.BigEndian.Uint16(data[4:6]))
		if total < HeaderLen || hlen < HeaderLen || hlen > total || total > len(data) {
			return out, errBadLength
		}
		out = append(out, Packet{
			Version: binary.BigEndian.Uint16(data[6:8]),
			Op:      Op(binary.BigEndian.Uint32(data[8:12])),
			Seq:     binary.BigEndian.Uint32(data[12:16]),
			Body:    data[hlen:total],
		})
		data = data[total:]
	}
	return out, nil
}

func inflate(body []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxInflated))
}
