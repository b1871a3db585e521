package server

import (
	"errors"
	"fmt"
	"slices"

	"zair/zair-prover/claim"
	"zair/zair-prover/logging"
	"zair/zair-prover/prover"
	"zair/zair-prover/prover/common"
)

// claimProver turns a witness request body into a claim.
type claimProver struct {
	systems claim.SystemProvider
	depths  []uint32
}

func (p *claimProver) prove(buf []byte) (result *prover.Claim, proofErr *Error) {
	meta, err := common.ParseProofRequestMeta(buf)
	if err != nil {
		return nil, malformedBodyError(err)
	}

	params, err := prover.ParseNonMembership(string(buf))
	if err != nil {
		return nil, malformedBodyError(err)
	}
	depth := params.TreeDepth()
	if meta.TreeDepth != 0 && meta.TreeDepth != depth {
		return nil, malformedBodyError(fmt.Errorf("treeDepth %d does not match path length %d", meta.TreeDepth, depth))
	}
	if len(p.depths) > 0 && !slices.Contains(p.depths, depth) {
		return nil, provingError(fmt.Errorf("tree depth %d is not served (available: %v)", depth, p.depths))
	}

	ps, err := p.systems.GetSystem(depth)
	if err != nil {
		return nil, unexpectedError(fmt.Errorf("loading proving system for depth %d: %w", depth, err))
	}

	timer := StartProofTimer(meta.Pool.String())
	defer func() {
		if r := recover(); r != nil {
			ProofPanicsTotal.Inc()
			timer.ObserveError("panic")
			logging.Logger().Error().Interface("panic", r).Msg("Recovered panic during proof generation")
			result, proofErr = nil, unexpectedError(fmt.Errorf("prover panic: %v", r))
		}
	}()

	proof, err := prover.ProveNonMembership(ps, &params)
	if err != nil {
		var inconsistent *prover.WitnessInconsistentError
		if errors.As(err, &inconsistent) {
			timer.ObserveError("witness_inconsistent")
		} else {
			timer.ObserveError("proving")
		}
		return nil, provingError(err)
	}
	timer.ObserveDuration()

	c := prover.NewClaim(&params, proof)
	return &c, nil
}
