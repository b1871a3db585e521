package common

import (
	"fmt"
	"path/filepath"
	"sync"

	"zair/zair-prover/logging"
)

// LazyKeyManager loads proving systems on first use and caches them by tree depth.
type LazyKeyManager struct {
	mu                sync.RWMutex
	systems           map[uint32]*ProvingSystem
	keysDir           string
	downloadConfig    *DownloadConfig
	loadingInProgress map[uint32]chan struct{}
}

func NewLazyKeyManager(keysDir string, downloadConfig *DownloadConfig) *LazyKeyManager {
	if downloadConfig == nil {
		downloadConfig = DefaultDownloadConfig()
	}
	return &LazyKeyManager{
		systems:           make(map[uint32]*ProvingSystem),
		keysDir:           keysDir,
		downloadConfig:    downloadConfig,
		loadingInProgress: make(map[uint32]chan struct{}),
	}
}

// Register adds an already loaded system, replacing any cached one for its depth.
func (m *LazyKeyManager) Register(ps *ProvingSystem) {
	m.mu.Lock()
	m.systems[ps.TreeDepth] = ps
	m.mu.Unlock()
}

func (m *LazyKeyManager) GetSystem(depth uint32) (*ProvingSystem, error) {
	m.mu.RLock()
	if ps, exists := m.systems[depth]; exists {
		m.mu.RUnlock()
		logging.Logger().Debug().
			Uint32("depth", depth).
			Msg("Found cached ProvingSystem")
		return ps, nil
	}
	m.mu.RUnlock()

	return m.loadSystem(depth)
}

func (m *LazyKeyManager) loadSystem(depth uint32) (*ProvingSystem, error) {
	loadChan := m.acquireLoadingLock(depth)
	if loadChan == nil {
		m.waitForLoading(depth)
		m.mu.RLock()
		ps, exists := m.systems[depth]
		m.mu.RUnlock()
		if exists {
			return ps, nil
		}
		return nil, fmt.Errorf("loading completed but system for depth %d not found in cache", depth)
	}
	defer m.releaseLoadingLock(depth, loadChan)

	keyPath := filepath.Join(m.keysDir, KeyFileName(depth))
	logging.Logger().Info().
		Str("key_path", keyPath).
		Uint32("depth", depth).
		Msg("Loading ProvingSystem")

	if err := DownloadKey(keyPath, m.downloadConfig); err != nil {
		return nil, fmt.Errorf("failed to fetch key %s: %w", keyPath, err)
	}

	ps, err := ReadSystemFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load key %s: %w", keyPath, err)
	}
	if ps.TreeDepth != depth {
		return nil, fmt.Errorf("key %s is for depth %d, expected %d", keyPath, ps.TreeDepth, depth)
	}

	m.mu.Lock()
	m.systems[depth] = ps
	m.mu.Unlock()

	logging.Logger().Info().
		Uint32("depth", depth).
		Int("constraints", ps.ConstraintSystem.GetNbConstraints()).
		Msg("ProvingSystem loaded and cached successfully")

	return ps, nil
}

func (m *LazyKeyManager) acquireLoadingLock(depth uint32) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, loading := m.loadingInProgress[depth]; loading {
		return nil
	}

	ch := make(chan struct{})
	m.loadingInProgress[depth] = ch
	return ch
}

func (m *LazyKeyManager) waitForLoading(depth uint32) {
	m.mu.RLock()
	ch := m.loadingInProgress[depth]
	m.mu.RUnlock()

	if ch != nil {
		<-ch
	}
}

func (m *LazyKeyManager) releaseLoadingLock(depth uint32, ch chan struct{}) {
	m.mu.Lock()
	delete(m.loadingInProgress, depth)
	m.mu.Unlock()
	close(ch)
}

func (m *LazyKeyManager) PreloadDepths(depths []uint32) error {
	for _, depth := range depths {
		if _, err := m.GetSystem(depth); err != nil {
			return err
		}
	}
	return nil
}

func (m *LazyKeyManager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	depths := make([]uint32, 0, len(m.systems))
	for depth := range m.systems {
		depths = append(depths, depth)
	}
	return map[string]interface{}{
		"systems_loaded": len(m.systems),
		"depths":         depths,
		"keys_loading":   len(m.loadingInProgress),
	}
}
