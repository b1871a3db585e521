package prover

import "fmt"

// WitnessInconsistentError is returned before proving when the witness
// could not satisfy the circuit.
type WitnessInconsistentError struct {
	Reason string
}

func (e *WitnessInconsistentError) Error() string {
	return "inconsistent witness: " + e.Reason
}

type InvalidProofError struct {
	Err error
}

func (e *InvalidProofError) Error() string {
	if e.Err == nil {
		return "invalid proof"
	}
	return fmt.Sprintf("invalid proof: %v", e.Err)
}

func (e *InvalidProofError) Unwrap() error {
	return e.Err
}

// PublicInputMismatchError names the first public input whose declared value
// differs from the value supplied by the verifier.
type PublicInputMismatchError struct {
	Field    string
	Declared string
	Expected string
}

func (e *PublicInputMismatchError) Error() string {
	return fmt.Sprintf("public input %s mismatch: claim declares %s, expected %s", e.Field, e.Declared, e.Expected)
}
