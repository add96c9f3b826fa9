// Package hnsrr translates Handshake on-chain resource records, as emitted
// by a name-tree inclusion proof, into conventional DNS records.
package hnsrr

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jroosing/hnsresolve/internal/dns"
)

// Handshake resource kinds, per the on-chain name-tree record format.
const (
	KindNS     byte = 0
	KindGlue4  byte = 1
	KindGlue6  byte = 2
	KindSynth4 byte = 3
	KindSynth6 byte = 4
	KindDS     byte = 5
	KindTXT    byte = 6
)

// ErrSynthUnsupported is returned for SYNTH4/SYNTH6 records. The on-chain
// encoding packs the address into the owner name via a Handshake-specific
// base32 scheme whose exact layout isn't available here; decoding these
// kinds needs the upstream Handshake reference before it can be completed.
var ErrSynthUnsupported = errors.New("hnsrr: SYNTH4/SYNTH6 decoding not supported")

// ErrBadResource means the resource's data does not match the shape its
// kind byte requires (wrong length, missing NUL separator, invalid UTF-8).
var ErrBadResource = errors.New("hnsrr: malformed resource record")

// DecodeResource decodes a single Handshake resource record into a DNS
// record. ownerName is used for GLUE4/GLUE6 records encoded in the legacy
// bare-IP form, which carry no embedded name of their own.
func DecodeResource(kind byte, data []byte, ownerName string) (dns.Record, error) {
	switch kind {
	case KindNS:
		return decodeNS(data)
	case KindGlue4:
		return decodeGlue(data, ownerName, dns.TypeA, 4)
	case KindGlue6:
		return decodeGlue(data, ownerName, dns.TypeAAAA, 16)
	case KindSynth4, KindSynth6:
		return dns.Record{}, ErrSynthUnsupported
	case KindDS:
		return decodeDS(data)
	case KindTXT:
		return decodeTXT(data)
	default:
		return dns.Record{}, fmt.Errorf("%w: unknown resource kind %d", ErrBadResource, kind)
	}
}

func decodeNS(data []byte) (dns.Record, error) {
	if len(data) == 0 {
		return dns.Record{}, fmt.Errorf("%w: NS record has empty host", ErrBadResource)
	}
	return dns.Record{Type: uint16(dns.TypeNS), Class: uint16(dns.ClassIN), Data: string(data)}, nil
}

// decodeGlue accepts two wire shapes:
//   - "name\0" + exactly addrLen bytes of address: the name is the record
//     owner, embedded because a single proof can carry glue for several
//     delegated names.
//   - exactly addrLen bytes with no name: the legacy bare-IP form, where
//     the caller-supplied ownerName is used instead.
func decodeGlue(data []byte, ownerName string, rrType dns.RecordType, addrLen int) (dns.Record, error) {
	if len(data) == addrLen {
		addr := make([]byte, addrLen)
		copy(addr, data)
		return dns.Record{Name: ownerName, Type: uint16(rrType), Class: uint16(dns.ClassIN), Data: addr}, nil
	}

	sep := bytes.IndexByte(data, 0)
	if sep < 0 || len(data)-sep-1 != addrLen {
		return dns.Record{}, fmt.Errorf("%w: glue record has invalid name/address split", ErrBadResource)
	}
	name := string(data[:sep])
	addr := make([]byte, addrLen)
	copy(addr, data[sep+1:])
	return dns.Record{Name: name, Type: uint16(rrType), Class: uint16(dns.ClassIN), Data: addr}, nil
}

func decodeDS(data []byte) (dns.Record, error) {
	raw := make([]byte, len(data))
	copy(raw, data)
	return dns.Record{Type: uint16(dns.TypeDS), Class: uint16(dns.ClassIN), Data: raw}, nil
}

func decodeTXT(data []byte) (dns.Record, error) {
	return dns.Record{Type: uint16(dns.TypeTXT), Class: uint16(dns.ClassIN), Data: string(data)}, nil
}
