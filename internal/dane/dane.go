// Package dane verifies a TLS server certificate against DANE/TLSA
// records published on the Handshake chain, composing the recursive
// resolver, its cache, and a direct TLS socket per RFC 6698.
package dane

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/jroosing/hnsresolve/internal/dns"
	"github.com/jroosing/hnsresolve/internal/hnserr"
	"github.com/jroosing/hnsresolve/internal/resolvers"
)

// Status is the outcome of a verify attempt.
type Status int

const (
	StatusOK Status = iota
	StatusNoTLSA
	StatusMismatch
	StatusNotSupported
	StatusUnreachable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "DANE_OK"
	case StatusNoTLSA:
		return "NO_TLSA"
	case StatusMismatch:
		return "DANE_MISMATCH"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	case StatusUnreachable:
		return "UNREACHABLE"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of Verify.
type Result struct {
	Status          Status
	Host            string
	MatchedRecord   int // index into the TLSA RRset; -1 if no match
	Subject         string
	Issuer          string
	SPKIFingerprint string // hex SHA-256 of the leaf's SubjectPublicKeyInfo
}

// dialTLS is overridable in tests.
var dialTLS = func(ctx context.Context, network, addr string, cfg *tls.Config) (*tls.Conn, error) {
	d := tls.Dialer{Config: cfg}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return conn.(*tls.Conn), nil
}

// Verifier resolves TLSA and A records through a recursive resolver and
// matches a live TLS certificate chain against them.
type Verifier struct {
	resolver  resolvers.Resolver
	connectTO time.Duration
	systemDNS *net.Resolver
}

// NewVerifier builds a Verifier that resolves names through resolver.
func NewVerifier(resolver resolvers.Resolver, connectTimeout time.Duration) *Verifier {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	return &Verifier{resolver: resolver, connectTO: connectTimeout, systemDNS: net.DefaultResolver}
}

// Verify resolves httpsURL's TLSA and A records and matches the live
// certificate chain presented at that address. Only port 443 is
// supported.
func (v *Verifier) Verify(ctx context.Context, httpsURL string) (Result, error) {
	u, err := url.Parse(httpsURL)
	if err != nil {
		return Result{Status: StatusNotSupported, MatchedRecord: -1}, hnserr.New(hnserr.NotSupported, err)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}
	if port != "443" {
		return Result{Status: StatusNotSupported, Host: host, MatchedRecord: -1},
			hnserr.New(hnserr.NotSupported, fmt.Errorf("dane: only port 443 is supported, got %s", port))
	}

	tlsaRecords, err := v.resolveTLSA(ctx, host)
	if err != nil {
		return Result{Status: StatusUnreachable, Host: host, MatchedRecord: -1}, err
	}
	if len(tlsaRecords) == 0 {
		return Result{Status: StatusNoTLSA, Host: host, MatchedRecord: -1}, nil
	}

	ip, err := v.resolveA(ctx, host)
	if err != nil {
		return Result{Status: StatusUnreachable, Host: host, MatchedRecord: -1}, err
	}

	chain, err := v.fetchChain(ctx, ip, host)
	if err != nil {
		return Result{Status: StatusUnreachable, Host: host, MatchedRecord: -1},
			hnserr.WithPeer(hnserr.Unreachable, ip, err)
	}

	for i, rdata := range tlsaRecords {
		ok, err := matchTLSA(rdata, chain)
		if err != nil {
			continue // usage/selector/matching outside the supported subset
		}
		if ok {
			leaf := chain[0]
			return Result{
				Status:          StatusOK,
				Host:            host,
				MatchedRecord:   i,
				Subject:         leaf.Subject.String(),
				Issuer:          leaf.Issuer.String(),
				SPKIFingerprint: spkiFingerprint(leaf),
			}, nil
		}
	}

	return Result{Status: StatusMismatch, Host: host, MatchedRecord: -1},
		hnserr.New(hnserr.Mismatch, fmt.Errorf("dane: no TLSA record matched the presented chain for %s", host))
}

func (v *Verifier) resolveTLSA(ctx context.Context, host string) ([][]byte, error) {
	qname := "_443._tcp." + host
	resp, err := v.query(ctx, qname, dns.TypeTLSA)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(resp.Answers))
	for _, rr := range resp.Answers {
		if dns.RecordType(rr.Type) != dns.TypeTLSA {
			continue
		}
		b, ok := rr.Data.([]byte)
		if !ok {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (v *Verifier) resolveA(ctx context.Context, host string) (string, error) {
	resp, err := v.query(ctx, host, dns.TypeA)
	if err == nil {
		for _, rr := range resp.Answers {
			if ip, ok := rr.IPv4(); ok {
				return ip, nil
			}
		}
	}

	// Fallback to system DNS, per spec, for hosts the configured resolver
	// chain can't answer (e.g. Handshake path unavailable).
	ips, sysErr := v.systemDNS.LookupHost(ctx, host)
	if sysErr != nil || len(ips) == 0 {
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("dane: no A record found for %s", host)
	}
	return ips[0], nil
}

func (v *Verifier) query(ctx context.Context, qname string, qtype dns.RecordType) (dns.Packet, error) {
	req := dns.Packet{
		Header:    dns.Header{ID: 1, Flags: dns.RDFlag},
		Questions: []dns.Question{{Name: qname, Type: uint16(qtype), Class: uint16(dns.ClassIN)}},
	}
	reqBytes, err := req.Marshal()
	if err != nil {
		return dns.Packet{}, err
	}
	result, err := v.resolver.Resolve(ctx, req, reqBytes)
	if err != nil {
		return dns.Packet{}, err
	}
	return dns.ParsePacket(result.ResponseBytes)
}

func (v *Verifier) fetchChain(ctx context.Context, ip, sni string) ([]*x509.Certificate, error) {
	ctx, cancel := context.WithTimeout(ctx, v.connectTO)
	defer cancel()

	cfg := &tls.Config{
		ServerName:         sni,
		InsecureSkipVerify: true, // matching is done manually against TLSA, not the system trust store
	}
	conn, err := dialTLS(ctx, "tcp", net.JoinHostPort(ip, "443"), cfg)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	chain := conn.ConnectionState().PeerCertificates
	if len(chain) == 0 {
		return nil, fmt.Errorf("dane: server presented no certificates")
	}
	return chain, nil
}

// matchTLSA tests one TLSA RDATA blob against chain. ok reports whether it
// matched; err is non-nil (ok always false) when the usage/selector/
// matching combination is outside RFC 6698's supported subset, or rdata is
// malformed, and the record should simply be skipped.
func matchTLSA(rdata []byte, chain []*x509.Certificate) (bool, error) {
	if len(rdata) < 4 {
		return false, fmt.Errorf("dane: TLSA rdata too short")
	}
	usage, selector, matching := rdata[0], rdata[1], rdata[2]
	assocData := rdata[3:]

	var cert *x509.Certificate
	switch usage {
	case 2: // DANE-TA
		if len(chain) < 2 {
			return false, fmt.Errorf("dane: usage 2 requires a chain beyond the leaf")
		}
		cert = chain[1]
	case 3: // DANE-EE
		cert = chain[0]
	default:
		return false, fmt.Errorf("dane: unsupported usage %d", usage)
	}

	var selected []byte
	switch selector {
	case 0:
		selected = cert.Raw
	case 1:
		selected = cert.RawSubjectPublicKeyInfo
	default:
		return false, fmt.Errorf("dane: unsupported selector %d", selector)
	}

	var computed []byte
	switch matching {
	case 0:
		computed = selected
	case 1:
		sum := sha256.Sum256(selected)
		computed = sum[:]
	case 2:
		sum := sha512.Sum512(selected)
		computed = sum[:]
	default:
		return false, fmt.Errorf("dane: unsupported matching type %d", matching)
	}

	return bytesEqual(computed, assocData), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func spkiFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:])
}
