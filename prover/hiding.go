package prover

import (
	"encoding/hex"
	"fmt"
	"strings"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover/common"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/blake2b"
)

const (
	DefaultSaplingPersonalization = "ZAIRTEST"
	DefaultOrchardDomain          = "ZAIRTEST:O"

	SaplingPersonalizationSize = 8
	MaxOrchardDomainSize       = 32

	hidingDomainTag = "zair-hiding-domain"
)

// NoteSecret is the nullifier-deriving key of a note. Only the note owner knows it.
type NoteSecret [32]byte

func (s NoteSecret) Limbs() (hi, lo fr.Element) {
	return merkletree.Nullifier(s).Limbs()
}

func (s NoteSecret) Hex() string {
	return "0x" + hex.EncodeToString(s[:])
}

func (s NoteSecret) MarshalText() ([]byte, error) {
	return []byte(s.Hex()), nil
}

func (s *NoteSecret) UnmarshalText(text []byte) error {
	parsed, err := NoteSecretFromHex(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func NoteSecretFromHex(v string) (NoteSecret, error) {
	n, err := merkletree.NullifierFromHex(v)
	if err != nil {
		return NoteSecret{}, fmt.Errorf("invalid note secret: %w", err)
	}
	return NoteSecret(n), nil
}

// HidingDomain separates hidden nullifiers per pool and per airdrop target.
type HidingDomain struct {
	Pool     common.Pool
	TargetID string
}

func DefaultHidingDomain(pool common.Pool) HidingDomain {
	if pool == common.Orchard {
		return HidingDomain{Pool: pool, TargetID: DefaultOrchardDomain}
	}
	return HidingDomain{Pool: pool, TargetID: DefaultSaplingPersonalization}
}

func (d HidingDomain) Validate() error {
	switch d.Pool {
	case common.Sapling:
		if len(d.TargetID) != SaplingPersonalizationSize {
			return fmt.Errorf("sapling personalization must be %d bytes, got %d", SaplingPersonalizationSize, len(d.TargetID))
		}
	case common.Orchard:
		if len(d.TargetID) == 0 || len(d.TargetID) > MaxOrchardDomainSize {
			return fmt.Errorf("orchard domain must be 1 to %d bytes, got %d", MaxOrchardDomainSize, len(d.TargetID))
		}
	default:
		return fmt.Errorf("unknown pool %s", d.Pool)
	}
	return nil
}

// Element maps the domain to a field element: blake2b-256 of the tagged
// pool and target id, reduced modulo r.
func (d HidingDomain) Element() fr.Element {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(hidingDomainTag))
	h.Write([]byte{byte(d.Pool)})
	h.Write([]byte(d.TargetID))
	var e fr.Element
	e.SetBytes(h.Sum(nil))
	return e
}

func (d HidingDomain) String() string {
	return fmt.Sprintf("%s:%s", d.Pool, strings.TrimSpace(d.TargetID))
}

// DeriveHidingNullifier computes H(H(domain, secret_hi, secret_lo), raw_hi, raw_lo).
// The domain already commits to the pool. The same raw nullifier under another
// secret or domain gives an unrelated value.
func DeriveHidingNullifier(domain HidingDomain, raw merkletree.Nullifier, secret NoteSecret) fr.Element {
	secretHi, secretLo := secret.Limbs()
	rawHi, rawLo := raw.Limbs()
	noteKey := merkletree.HashElements(domain.Element(), secretHi, secretLo)
	return merkletree.HashElements(noteKey, rawHi, rawLo)
}
