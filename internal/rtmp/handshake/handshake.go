// Package handshake implements the RTMP complex handshake: the
// HMAC-SHA256 digest scheme an Adobe-compatible client uses to prove
// it understands the protocol, with a plain byte-echo fallback for
// clients that only speak the original simple handshake.
package handshake

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
)

const (
	Version   = 3
	SigSize   = 1536
	digestLen = 32
)

// Scheme identifies which of the two digest placements (schema 0 or
// schema 1) the client's C1 used, or that the client sent a plain
// (pre-digest) simple handshake instead.
type Scheme int

const (
	SchemeSimple Scheme = iota
	SchemeDigest0
	SchemeDigest1
)

const genuineFMSConst = "Genuine Adobe Flash Media Server 001"
const genuineFPConst = "Genuine Adobe Flash Player 001"

var randomCrud = []byte{
	0xf0, 0xee, 0xc2, 0x4a, 0x80, 0x68, 0xbe, 0xe8,
	0x2e, 0x00, 0xd0, 0xd1, 0x02, 0x9e, 0x7e, 0x57,
	0x6e, 0xec, 0x5d, 0x2d, 0x29, 0x80, 0x6f, 0xab,
	0x93, 0xb8, 0xe6, 0x36, 0xcf, 0xeb, 0x31, 0xae,
}

var genuineFMSConstCrud = append([]byte(genuineFMSConst), randomCrud...)

func calcHmac(message, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

func signaturesEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

func schema1DigestOffset(buf []byte) uint32 {
	offset := uint32(buf[0]) + uint32(buf[1]) + uint32(buf[2]) + uint32(buf[3])
	return (offset % 728) + 12
}

func schema0DigestOffset(buf []byte) uint32 {
	offset := uint32(buf[0]) + uint32(buf[1]) + uint32(buf[2]) + uint32(buf[3])
	return (offset % 728) + 776
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// DetectScheme inspects C1 and reports which digest placement (if
// any) the client used, trying schema 1 (digest offset computed from
// bytes 772:776) before schema 0 (offset from bytes 8:12), matching
// the order every compatible server checks in.
func DetectScheme(c1 []byte) Scheme {
	if len(c1) < SigSize {
		return SchemeSimple
	}

	sdl := schema0DigestOffset(c1[772:776])
	msg := buildDigestMessage(c1, sdl)
	computed := calcHmac(msg, []byte(genuineFPConst))
	provided := c1[sdl : sdl+digestLen]
	if signaturesEqual(computed, provided) {
		return SchemeDigest1
	}

	sdl = schema1DigestOffset(c1[8:12])
	msg = buildDigestMessage(c1, sdl)
	computed = calcHmac(msg, []byte(genuineFPConst))
	provided = c1[sdl : sdl+digestLen]
	if signaturesEqual(computed, provided) {
		return SchemeDigest0
	}

	return SchemeSimple
}

func buildDigestMessage(sig []byte, digestOffset uint32) []byte {
	msg := make([]byte, 0, 1504)
	msg = append(msg, sig[:digestOffset]...)
	msg = append(msg, sig[digestOffset+digestLen:]...)
	return padTo(msg, 1504)
}

func digestOffsetForScheme(scheme Scheme, sig []byte) uint32 {
	if scheme == SchemeDigest0 {
		return schema1DigestOffset(sig[8:12])
	}
	return schema0DigestOffset(sig[772:776])
}

// dhKeyOffset picks a 128-byte window inside S1 for the embedded DH
// public key that never overlaps the digest window the chosen scheme
// writes into. SchemeDigest0's digest offset is computed from bytes
// 8:12 and always lands in [12,771]; SchemeDigest1's is computed from
// bytes 772:776 and always lands in [776,1535]. Each scheme's unused
// half of the buffer is a safe home for the other's key window.
func dhKeyOffset(scheme Scheme) int {
	if scheme == SchemeDigest0 {
		return 900
	}
	return 100
}

// GenerateS1 builds the server's S1 signature for a digest-scheme
// handshake: 8 bytes of (time, version), a real Diffie-Hellman public
// key computed via KeyExchange, and fill random bytes elsewhere, with
// the HMAC digest written in at the position the chosen scheme
// expects (covering the embedded key too, since it's part of the
// signed message).
func GenerateS1(scheme Scheme) ([]byte, error) {
	s1 := make([]byte, SigSize)
	copy(s1[0:8], []byte{0, 0, 0, 0, 1, 2, 3, 4})
	if _, err := rand.Read(s1[8:]); err != nil {
		return nil, rtmperr.Wrap(rtmperr.KindHandshake, "generate S1 randomness", err)
	}

	kx, err := NewKeyExchange()
	if err != nil {
		return nil, err
	}
	keyOffset := dhKeyOffset(scheme)
	copy(s1[keyOffset:keyOffset+len(kx.Public)], kx.Public)

	offset := digestOffsetForScheme(scheme, s1)
	msg := buildDigestMessage(s1, offset)
	h := calcHmac(msg, []byte(genuineFMSConst))
	copy(s1[offset:offset+digestLen], h)

	return s1, nil
}

// GenerateS2 builds the server's S2 signature, an HMAC keyed by a
// hash of the client's digest over fresh random bytes, proving the
// server derived its key from the client's C1.
func GenerateS2(scheme Scheme, c1 []byte) ([]byte, error) {
	random := make([]byte, SigSize-digestLen)
	if _, err := rand.Read(random); err != nil {
		return nil, rtmperr.Wrap(rtmperr.KindHandshake, "generate S2 randomness", err)
	}

	var offset uint32
	if scheme == SchemeDigest0 {
		offset = schema1DigestOffset(c1[8:12])
	} else {
		offset = schema0DigestOffset(c1[772:776])
	}
	challengeKey := c1[offset : offset+digestLen]

	key := calcHmac(challengeKey, genuineFMSConstCrud)
	signature := calcHmac(random, key)

	s2 := make([]byte, 0, SigSize)
	s2 = append(s2, random...)
	s2 = append(s2, signature...)
	return padTo(s2, SigSize), nil
}

// Respond computes the full S0/S1/S2 response to a received C1,
// choosing between the digest handshake and a byte-for-byte simple
// handshake echo depending on what DetectScheme found.
func Respond(c1 []byte) ([]byte, error) {
	if len(c1) != SigSize {
		return nil, rtmperr.Wrap(rtmperr.KindHandshake, "C1 has unexpected size", nil)
	}

	scheme := DetectScheme(c1)

	out := make([]byte, 0, 1+2*SigSize)
	out = append(out, Version)

	if scheme == SchemeSimple {
		out = append(out, c1...)
		out = append(out, c1...)
		return out, nil
	}

	s1, err := GenerateS1(scheme)
	if err != nil {
		return nil, err
	}
	s2, err := GenerateS2(scheme, c1)
	if err != nil {
		return nil, err
	}
	out = append(out, s1...)
	out = append(out, s2...)
	return out, nil
}

// VerifyC2 checks that the client echoed back S1 correctly in C2 for
// a simple handshake; the digest handshake's C2 is a derived
// signature the client trusts the server computed honestly and is not
// separately re-verified here, matching how the reference server
// handles it.
func VerifyC2(scheme Scheme, s1, c2 []byte) bool {
	if scheme != SchemeSimple {
		return len(c2) == SigSize
	}
	return signaturesEqual(s1, c2)
}
