package handshake

import (
	"crypto/rand"
	"math/big"

	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
)

// p1024Hex is the 1024-bit MODP group prime (RFC 2409 group 2), the
// same prime the reference implementation's OpenSSL DH context is
// seeded with for the encrypted handshake variant.
const p1024Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD" +
	"129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519" +
	"B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7" +
	"EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F" +
	"24117C4B1FE649286651ECE65381FFFFFFFFFFFFFFFF"

var (
	dhPrime     *big.Int
	dhGenerator = big.NewInt(2)
)

func init() {
	p, ok := new(big.Int).SetString(p1024Hex, 16)
	if !ok {
		panic("handshake: invalid DH prime constant")
	}
	dhPrime = p
}

// KeyExchange holds one side's Diffie-Hellman key pair. GenerateS1
// builds one for every digest-scheme handshake and embeds its public
// key in S1; nothing in the accept path calls SharedSecret, and no
// encrypted (client type 0x06/0x08) session is negotiated on top of it.
type KeyExchange struct {
	private *big.Int
	Public  []byte
}

// NewKeyExchange generates a fresh private exponent and the
// corresponding public key, sized to the 128-byte DH public key field
// the encrypted handshake's C1/S1 carry.
func NewKeyExchange() (*KeyExchange, error) {
	private, err := rand.Int(rand.Reader, dhPrime)
	if err != nil {
		return nil, rtmperr.Wrap(rtmperr.KindHandshake, "generate DH private key", err)
	}
	public := new(big.Int).Exp(dhGenerator, private, dhPrime)

	out := make([]byte, 128)
	public.FillBytes(out)

	return &KeyExchange{private: private, Public: out}, nil
}

// SharedSecret computes the shared key from the peer's public key
// bytes, the value both sides then use to derive their RC4 stream
// cipher keys for the remainder of an encrypted session.
func (k *KeyExchange) SharedSecret(peerPublic []byte) []byte {
	peer := new(big.Int).SetBytes(peerPublic)
	shared := new(big.Int).Exp(peer, k.private, dhPrime)

	out := make([]byte, 128)
	shared.FillBytes(out)
	return out
}
