package common

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"zair/zair-prover/logging"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
)

func KeyFileName(depth uint32) string {
	return fmt.Sprintf("%s_%d.key", NonMembershipCircuitType, depth)
}

func VerifyingKeyFileName(depth uint32) string {
	return fmt.Sprintf("%s_%d.vkey", NonMembershipCircuitType, depth)
}

func GetKeys(keysDir string, depths []uint32) []string {
	var keys []string
	for _, depth := range depths {
		key := filepath.Join(keysDir, KeyFileName(depth))
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}

	logging.Logger().Info().
		Strs("keys", keys).
		Msg("Loading proving system keys")

	return keys
}

// Taken from: https://github.com/bnb-chain/zkbnb/blob/master/common/prove/proof_keys.go#L32
func LoadVerifyingKey(filepath string) (groth16.VerifyingKey, error) {
	logging.Logger().Info().Str("filepath", filepath).Msg("start reading verifying key")
	verifyingKey := groth16.NewVerifyingKey(ecc.BN254)
	f, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("error opening verifying key file: %v", err)
	}
	defer f.Close()

	if _, err = verifyingKey.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("error reading verifying key: %v", err)
	}
	return verifyingKey, nil
}

func WriteVerifyingKey(vk groth16.VerifyingKey, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	written, err := vk.WriteTo(file)
	if err != nil {
		return err
	}
	logging.Logger().Info().Int64("bytesWritten", written).Str("path", path).Msg("Verifying key written to file")
	return nil
}

// WriteProvingSystem writes the full system and, if pathVkey is set, the
// verifying key on its own for verifiers.
func WriteProvingSystem(system *ProvingSystem, path string, pathVkey string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	written, err := system.WriteTo(file)
	if err != nil {
		return err
	}

	logging.Logger().Info().
		Int64("bytesWritten", written).
		Uint32("treeDepth", system.TreeDepth).
		Msg("Proving system written to file")

	if pathVkey != "" {
		return WriteVerifyingKey(system.VerifyingKey, pathVkey)
	}
	return nil
}
