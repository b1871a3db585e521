package common

import (
	"encoding/json"
	"fmt"
)

// ProofRequestMeta contains metadata extracted from a proof request
type ProofRequestMeta struct {
	CircuitType CircuitType
	Pool        Pool
	TreeDepth   uint32
}

// ParseProofRequestMeta extracts the circuit type, pool and tree depth without decoding the witness.
func ParseProofRequestMeta(data []byte) (ProofRequestMeta, error) {
	var rawInput map[string]interface{}
	err := json.Unmarshal(data, &rawInput)
	if err != nil {
		return ProofRequestMeta{}, fmt.Errorf("failed to parse JSON: %w", err)
	}

	circuitType := NonMembershipCircuitType
	if raw, ok := rawInput["circuitType"].(string); ok && raw != "" {
		circuitType = CircuitType(raw)
	}
	if circuitType != NonMembershipCircuitType {
		return ProofRequestMeta{}, fmt.Errorf("unsupported circuit type %q", circuitType)
	}

	poolName, ok := rawInput["pool"].(string)
	if !ok || poolName == "" {
		return ProofRequestMeta{}, fmt.Errorf("missing or invalid 'pool'")
	}
	pool, err := ParsePool(poolName)
	if err != nil {
		return ProofRequestMeta{}, err
	}

	treeDepth := uint32(0)
	if depth, ok := rawInput["treeDepth"].(float64); ok && depth > 0 {
		treeDepth = uint32(depth)
	}

	return ProofRequestMeta{
		CircuitType: circuitType,
		Pool:        pool,
		TreeDepth:   treeDepth,
	}, nil
}
