// Package commitment helps clients build the opaque commitment strings
// they attach to deposits. The vault itself never opens or checks them.
//
// A commitment is MiMC over the BN254 scalar field of four elements:
// denomination, decimal amount, the depositor's secret and a random nonce.
// Each input is reduced into the field before hashing.
package commitment

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/xraph/notevault/types"
)

// Prefix tags commitment strings produced by this package.
const Prefix = "mimc-bn254:"

// NonceSize is the length of nonces returned by NewNonce.
const NonceSize = 32

var (
	// ErrEmptySecret is returned when no secret is supplied.
	ErrEmptySecret = errors.New("commitment: secret must not be empty")
	// ErrEmptyNonce is returned when no nonce is supplied.
	ErrEmptyNonce = errors.New("commitment: nonce must not be empty")
)

// Opening is everything needed to recompute a commitment.
type Opening struct {
	Value  types.Amount
	Secret []byte
	Nonce  []byte
}

// NewNonce returns NonceSize random bytes.
func NewNonce() ([]byte, error) {
	b := make([]byte, NonceSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("commitment: read nonce: %w", err)
	}
	return b, nil
}

// New draws a fresh nonce and commits to value under secret.
func New(value types.Amount, secret []byte) (string, Opening, error) {
	nonce, err := NewNonce()
	if err != nil {
		return "", Opening{}, err
	}
	o := Opening{Value: value, Secret: secret, Nonce: nonce}
	c, err := o.Commit()
	if err != nil {
		return "", Opening{}, err
	}
	return c, o, nil
}

// Commit returns the commitment string for o.
func (o Opening) Commit() (string, error) {
	sum, err := o.digest()
	if err != nil {
		return "", err
	}
	return Prefix + hex.EncodeToString(sum), nil
}

// Matches reports whether commitment was produced from o.
func (o Opening) Matches(commitment string) bool {
	raw, ok := strings.CutPrefix(commitment, Prefix)
	if !ok {
		return false
	}
	want, err := hex.DecodeString(raw)
	if err != nil {
		return false
	}
	got, err := o.digest()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (o Opening) digest() ([]byte, error) {
	if len(o.Secret) == 0 {
		return nil, ErrEmptySecret
	}
	if len(o.Nonce) == 0 {
		return nil, ErrEmptyNonce
	}

	h := mimc.NewMiMC()
	for _, in := range [][]byte{
		[]byte(o.Value.Denomination),
		[]byte(o.Value.Value.String()),
		o.Secret,
		o.Nonce,
	} {
		elem := element(in)
		if _, err := h.Write(elem[:]); err != nil {
			return nil, fmt.Errorf("commitment: hash: %w", err)
		}
	}
	return h.Sum(nil), nil
}

// element maps arbitrary bytes to the canonical encoding of a field element.
func element(b []byte) [fr.Bytes]byte {
	var e fr.Element
	e.SetBytes(b)
	return e.Bytes()
}
