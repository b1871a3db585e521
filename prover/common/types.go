package common

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type CircuitType string

const (
	NonMembershipCircuitType CircuitType = "non-membership"
)

// Pool is a Zcash shielded pool. The numeric value is the pool tag used in circuits.
type Pool uint8

const (
	Sapling Pool = 0
	Orchard Pool = 1
)

var AllPools = []Pool{Sapling, Orchard}

func (p Pool) String() string {
	switch p {
	case Sapling:
		return "sapling"
	case Orchard:
		return "orchard"
	default:
		return fmt.Sprintf("pool(%d)", uint8(p))
	}
}

func ParsePool(s string) (Pool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sapling":
		return Sapling, nil
	case "orchard":
		return Orchard, nil
	default:
		return 0, fmt.Errorf("unknown pool %q (expected sapling or orchard)", s)
	}
}

// ParsePoolSelection accepts "sapling", "orchard" or "both".
func ParsePoolSelection(s string) ([]Pool, error) {
	if strings.EqualFold(strings.TrimSpace(s), "both") {
		return []Pool{Sapling, Orchard}, nil
	}
	pool, err := ParsePool(s)
	if err != nil {
		return nil, err
	}
	return []Pool{pool}, nil
}

func (p Pool) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Pool) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePool(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "main":
		return Mainnet, nil
	case "testnet", "test":
		return Testnet, nil
	default:
		return "", fmt.Errorf("unknown network %q (expected mainnet or testnet)", s)
	}
}

// HeightRange is an inclusive block height range start..=end.
type HeightRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (r HeightRange) Validate() error {
	if r.Start > r.End {
		return fmt.Errorf("invalid height range: start %d is after end %d", r.Start, r.End)
	}
	return nil
}

func (r HeightRange) Contains(height uint64) bool {
	return height >= r.Start && height <= r.End
}

func (r HeightRange) String() string {
	return fmt.Sprintf("%d..%d", r.Start, r.End)
}

// Split cuts the range into consecutive pages of at most size blocks.
func (r HeightRange) Split(size uint64) []HeightRange {
	if size == 0 {
		return []HeightRange{r}
	}
	var pages []HeightRange
	for start := r.Start; ; start += size {
		end := start + size - 1
		if end >= r.End || end < start {
			pages = append(pages, HeightRange{Start: start, End: r.End})
			return pages
		}
		pages = append(pages, HeightRange{Start: start, End: end})
	}
}

// ParseHeightRange parses "START..END" or "START..=END".
func ParseHeightRange(s string) (HeightRange, error) {
	s = strings.TrimSpace(s)
	startStr, endStr, ok := strings.Cut(s, "..")
	if !ok {
		return HeightRange{}, fmt.Errorf("invalid range %q, expected START..END", s)
	}
	endStr = strings.TrimPrefix(endStr, "=")
	start, err := strconv.ParseUint(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return HeightRange{}, fmt.Errorf("invalid range start %q: %w", startStr, err)
	}
	end, err := strconv.ParseUint(strings.TrimSpace(endStr), 10, 64)
	if err != nil {
		return HeightRange{}, fmt.Errorf("invalid range end %q: %w", endStr, err)
	}
	r := HeightRange{Start: start, End: end}
	return r, r.Validate()
}
