package scanner

import (
	"encoding/hex"
	"fmt"
	"strings"

	"zair/zair-prover/prover/common"
)

const (
	SaplingViewingKeySize = 128
	OrchardViewingKeySize = 96
)

type InvalidViewingKeyError struct {
	Pool   common.Pool
	Reason string
}

func (e *InvalidViewingKeyError) Error() string {
	return fmt.Sprintf("invalid %s viewing key: %s", e.Pool, e.Reason)
}

// ViewingKeys holds the full viewing keys of a wallet. Either pool may be absent.
type ViewingKeys struct {
	Sapling  []byte
	Orchard  []byte
	Birthday uint64
}

func ParseViewingKeys(saplingHex, orchardHex string, birthday uint64) (*ViewingKeys, error) {
	keys := &ViewingKeys{Birthday: birthday}
	var err error
	if keys.Sapling, err = decodeKey(common.Sapling, saplingHex); err != nil {
		return nil, err
	}
	if keys.Orchard, err = decodeKey(common.Orchard, orchardHex); err != nil {
		return nil, err
	}
	if err := keys.Validate(); err != nil {
		return nil, err
	}
	return keys, nil
}

func decodeKey(pool common.Pool, s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, &InvalidViewingKeyError{Pool: pool, Reason: "not hex"}
	}
	return raw, nil
}

func (k *ViewingKeys) Validate() error {
	if len(k.Sapling) == 0 && len(k.Orchard) == 0 {
		return &InvalidViewingKeyError{Pool: common.Sapling, Reason: "no viewing key for any pool"}
	}
	if len(k.Sapling) != 0 && len(k.Sapling) != SaplingViewingKeySize {
		return &InvalidViewingKeyError{Pool: common.Sapling, Reason: fmt.Sprintf("expected %d bytes, got %d", SaplingViewingKeySize, len(k.Sapling))}
	}
	if len(k.Orchard) != 0 && len(k.Orchard) != OrchardViewingKeySize {
		return &InvalidViewingKeyError{Pool: common.Orchard, Reason: fmt.Sprintf("expected %d bytes, got %d", OrchardViewingKeySize, len(k.Orchard))}
	}
	return nil
}

func (k *ViewingKeys) Has(pool common.Pool) bool {
	switch pool {
	case common.Sapling:
		return len(k.Sapling) != 0
	case common.Orchard:
		return len(k.Orchard) != 0
	}
	return false
}

func (k *ViewingKeys) Pools() []common.Pool {
	var pools []common.Pool
	for _, pool := range common.AllPools {
		if k.Has(pool) {
			pools = append(pools, pool)
		}
	}
	return pools
}
