package prover

import (
	"fmt"

	"zair/zair-prover/logging"
	"zair/zair-prover/prover/common"
)

// LoadKeys reads a proving system for every requested depth from keysDir.
func LoadKeys(keysDir string, depths []uint32) ([]*common.ProvingSystem, error) {
	var systems []*common.ProvingSystem
	for _, path := range common.GetKeys(keysDir, depths) {
		system, err := common.ReadSystemFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		logging.Logger().Info().
			Uint32("treeDepth", system.TreeDepth).
			Str("path", path).
			Msg("Read proving system")
		systems = append(systems, system)
	}
	return systems, nil
}
