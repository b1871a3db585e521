package common

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"zair/zair-prover/logging"
)

const (
	DefaultMaxRetries    = 10
	DefaultRetryDelay    = 5 * time.Second
	DefaultMaxRetryDelay = 5 * time.Minute
)

type DownloadConfig struct {
	BaseURL       string
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	AutoDownload  bool
}

// DefaultDownloadConfig has no mirror configured; keys must exist locally
// unless a BaseURL is supplied.
func DefaultDownloadConfig() *DownloadConfig {
	return &DownloadConfig{
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
		AutoDownload:  false,
	}
}

type checksumCache struct {
	mu        sync.Mutex
	checksums map[string]map[string]string
}

var globalChecksumCache = &checksumCache{
	checksums: make(map[string]map[string]string),
}

func (c *checksumCache) lookup(config *DownloadConfig, filename string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sums, ok := c.checksums[config.BaseURL]
	if !ok {
		var err error
		sums, err = downloadChecksum(config)
		if err != nil {
			return "", err
		}
		c.checksums[config.BaseURL] = sums
	}
	checksum, ok := sums[filename]
	if !ok {
		return "", fmt.Errorf("no checksum found for %s", filename)
	}
	return checksum, nil
}

func downloadChecksum(config *DownloadConfig) (map[string]string, error) {
	checksumURL := config.BaseURL + "/CHECKSUM"
	logging.Logger().Info().
		Str("url", checksumURL).
		Msg("Downloading CHECKSUM file")

	resp, err := http.Get(checksumURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download CHECKSUM file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download CHECKSUM file: HTTP %d", resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read CHECKSUM file: %w", err)
	}
	return ParseChecksums(string(content)), nil
}

// ParseChecksums reads sha256sum output ("checksum  filename" per line).
func ParseChecksums(content string) map[string]string {
	checksums := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) >= 2 {
			checksums[strings.TrimPrefix(parts[1], "*")] = parts[0]
		}
	}
	return checksums
}

func verifyChecksum(filepath string, expectedChecksum string) (bool, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return false, err
	}

	actualChecksum := hex.EncodeToString(hash.Sum(nil))
	return actualChecksum == expectedChecksum, nil
}

// CalculateBackoff doubles initialDelay per attempt (attempt starts at 1), capped at maxDelay.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return maxDelay
	}
	delay := initialDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}
	return delay
}

func downloadFile(url, outputPath string, config *DownloadConfig) error {
	tempPath := outputPath + ".tmp"
	client := &http.Client{Timeout: 60 * time.Minute}

	var lastErr error
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := CalculateBackoff(attempt-1, config.RetryDelay, config.MaxRetryDelay)
			logging.Logger().Warn().
				Err(lastErr).
				Dur("retry_delay", delay).
				Int("attempt", attempt).
				Msg("Download failed, retrying")
			time.Sleep(delay)
		}

		lastErr = func() error {
			resp, err := client.Get(url)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
			}

			file, err := os.Create(tempPath)
			if err != nil {
				return err
			}
			written, err := io.Copy(file, resp.Body)
			if closeErr := file.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			logging.Logger().Info().
				Str("file", filepath.Base(outputPath)).
				Int64("size", written).
				Msg("Download completed")
			return os.Rename(tempPath, outputPath)
		}()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to download after %d attempts: %w", config.MaxRetries, lastErr)
}

// DownloadKey makes sure keyPath exists and matches the published checksum.
func DownloadKey(keyPath string, config *DownloadConfig) error {
	if !config.AutoDownload || config.BaseURL == "" {
		if _, err := os.Stat(keyPath); err != nil {
			return fmt.Errorf("required key file not found: %s (auto-download disabled)", keyPath)
		}
		return nil
	}

	filename := filepath.Base(keyPath)
	expectedChecksum, err := globalChecksumCache.lookup(config, filename)
	if err != nil {
		return fmt.Errorf("failed to load checksums: %w", err)
	}

	if _, err := os.Stat(keyPath); err == nil {
		valid, err := verifyChecksum(keyPath, expectedChecksum)
		if err == nil && valid {
			logging.Logger().Info().Str("file", filename).Msg("Key file is valid, skipping download")
			return nil
		}
		logging.Logger().Warn().Str("file", filename).Msg("Checksum mismatch, re-downloading")
		os.Remove(keyPath)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(config.BaseURL, "/"), filename)
	if err := downloadFile(url, keyPath, config); err != nil {
		return err
	}

	valid, err := verifyChecksum(keyPath, expectedChecksum)
	if err != nil {
		return fmt.Errorf("failed to verify downloaded file: %w", err)
	}
	if !valid {
		os.Remove(keyPath)
		return fmt.Errorf("downloaded file checksum mismatch")
	}

	logging.Logger().Info().Str("file", filename).Msg("Key file downloaded and verified successfully")
	return nil
}
