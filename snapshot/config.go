package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover"
	"zair/zair-prover/prover/common"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

type SaplingHiding struct {
	Personalization string `json:"personalization"`
}

type OrchardHiding struct {
	Domain string `json:"domain"`
}

type HidingFactor struct {
	Sapling SaplingHiding `json:"sapling"`
	Orchard OrchardHiding `json:"orchard"`
}

// AirdropConfiguration is the published artifact claimants and verifiers read.
type AirdropConfiguration struct {
	Network           common.Network     `json:"network,omitempty"`
	SnapshotRange     common.HeightRange `json:"snapshot_range"`
	TreeDepth         uint32             `json:"tree_depth,omitempty"`
	SaplingMerkleRoot *string            `json:"sapling_merkle_root"`
	OrchardMerkleRoot *string            `json:"orchard_merkle_root"`
	HidingFactor      HidingFactor       `json:"hiding_factor"`
}

func NewAirdropConfiguration(network common.Network, snapshotRange common.HeightRange, treeDepth uint32) *AirdropConfiguration {
	return &AirdropConfiguration{
		Network:       network,
		SnapshotRange: snapshotRange,
		TreeDepth:     treeDepth,
		HidingFactor: HidingFactor{
			Sapling: SaplingHiding{Personalization: prover.DefaultSaplingPersonalization},
			Orchard: OrchardHiding{Domain: prover.DefaultOrchardDomain},
		},
	}
}

func (c *AirdropConfiguration) Depth() uint32 {
	if c.TreeDepth == 0 {
		return merkletree.DefaultDepth
	}
	return c.TreeDepth
}

func (c *AirdropConfiguration) rootField(pool common.Pool) **string {
	if pool == common.Orchard {
		return &c.OrchardMerkleRoot
	}
	return &c.SaplingMerkleRoot
}

func (c *AirdropConfiguration) SetRoot(pool common.Pool, root fr.Element) {
	hex := common.ElementToHex(root)
	*c.rootField(pool) = &hex
}

// Root returns the published root of a pool; ok is false if the pool was not built.
func (c *AirdropConfiguration) Root(pool common.Pool) (root fr.Element, ok bool, err error) {
	raw := *c.rootField(pool)
	if raw == nil {
		return root, false, nil
	}
	root, err = common.ParseFieldElement(*raw)
	if err != nil {
		return root, false, fmt.Errorf("%s_merkle_root: %w", pool, err)
	}
	return root, true, nil
}

func (c *AirdropConfiguration) HidingDomain(pool common.Pool) prover.HidingDomain {
	domain := prover.DefaultHidingDomain(pool)
	switch pool {
	case common.Sapling:
		if c.HidingFactor.Sapling.Personalization != "" {
			domain.TargetID = c.HidingFactor.Sapling.Personalization
		}
	case common.Orchard:
		if c.HidingFactor.Orchard.Domain != "" {
			domain.TargetID = c.HidingFactor.Orchard.Domain
		}
	}
	return domain
}

func (c *AirdropConfiguration) HidingDomains() []prover.HidingDomain {
	domains := make([]prover.HidingDomain, 0, len(common.AllPools))
	for _, pool := range common.AllPools {
		domains = append(domains, c.HidingDomain(pool))
	}
	return domains
}

// Published lists the roots verifiers should accept, keyed by pool.
func (c *AirdropConfiguration) Published() (map[common.Pool]prover.PublishedRoot, error) {
	published := make(map[common.Pool]prover.PublishedRoot)
	for _, pool := range common.AllPools {
		root, ok, err := c.Root(pool)
		if err != nil {
			return nil, err
		}
		if ok {
			published[pool] = prover.PublishedRoot{Root: root, Range: c.SnapshotRange}
		}
	}
	return published, nil
}

func (c *AirdropConfiguration) Validate() error {
	if err := c.SnapshotRange.Validate(); err != nil {
		return err
	}
	depth := c.Depth()
	if depth < merkletree.MinDepth || depth > merkletree.MaxDepth {
		return fmt.Errorf("tree_depth %d out of range [%d, %d]", depth, merkletree.MinDepth, merkletree.MaxDepth)
	}
	for _, pool := range common.AllPools {
		if _, _, err := c.Root(pool); err != nil {
			return err
		}
		if err := c.HidingDomain(pool).Validate(); err != nil {
			return fmt.Errorf("hiding_factor: %w", err)
		}
	}
	return nil
}

func ReadConfiguration(path string) (*AirdropConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config AirdropConfiguration
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing airdrop configuration %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("airdrop configuration %s: %w", path, err)
	}
	return &config, nil
}

func (c *AirdropConfiguration) Write(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, append(data, '\n'))
}

// VerifyRoot compares a computed root to the published one.
func (c *AirdropConfiguration) VerifyRoot(pool common.Pool, actual fr.Element) error {
	expected, ok, err := c.Root(pool)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("configuration has no %s root", pool)
	}
	if !expected.Equal(&actual) {
		return &RootMismatchError{Pool: pool, Expected: common.ElementToHex(expected), Actual: common.ElementToHex(actual)}
	}
	return nil
}
