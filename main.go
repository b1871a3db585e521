package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"zair/zair-prover/claim"
	"zair/zair-prover/config"
	"zair/zair-prover/logging"
	merkletree "zair/zair-prover/merkle-tree"
	"zair/zair-prover/prover"
	"zair/zair-prover/prover/common"
	"zair/zair-prover/scanner"
	"zair/zair-prover/server"
	"zair/zair-prover/snapshot"

	gnarkLogger "github.com/consensys/gnark/logger"
	"github.com/urfave/cli/v2"
)

var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.Logger().Fatal().Err(err).Msg("command failed")
	}
}

func newApp() *cli.App {
	gnarkLogger.Set(*logging.Logger())
	return &cli.App{
		Name:                 "zair-prover",
		Usage:                "nullifier snapshots and non-membership claims for shielded airdrops",
		Version:              Version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Usage: "zerolog level", Value: "info", EnvVars: []string{"ZAIR_LOG_LEVEL"}},
			&cli.BoolFlag{Name: "json-logging", Usage: "enable JSON logging", EnvVars: []string{"ZAIR_JSON_LOGS"}},
		},
		Before: func(context *cli.Context) error {
			if context.Bool("json-logging") {
				logging.SetJSONOutput()
			}
			return logging.SetLevel(context.String("log-level"))
		},
		Commands: []*cli.Command{
			setupCommand(),
			r1csCommand(),
			exportVKCommand(),
			extractCircuitCommand(),
			buildSnapshotCommand(),
			verifySnapshotCommand(),
			claimCommand(),
			verifyCommand(),
			startCommand(),
		},
	}
}

func depthFlag() cli.Flag {
	return &cli.UintFlag{Name: "depth", Usage: "snapshot tree depth", Value: merkletree.DefaultDepth}
}

func treeDepth(context *cli.Context) (uint32, error) {
	depths, err := prover.ParseDepths([]int64{int64(context.Uint("depth"))})
	if err != nil {
		return 0, err
	}
	return depths[0], nil
}

func setupCommand() *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "run the groth16 setup for the non-membership circuit",
		Flags: []cli.Flag{
			depthFlag(),
			&cli.StringFlag{Name: "output", Usage: "proving system file", Required: true},
			&cli.StringFlag{Name: "output-vkey", Usage: "verifying key file"},
		},
		Action: func(context *cli.Context) error {
			depth, err := treeDepth(context)
			if err != nil {
				return err
			}

			logging.Logger().Info().Uint32("depth", depth).Msg("Running setup")
			system, err := prover.SetupCircuit(common.NonMembershipCircuitType, depth)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(context.String("output")), 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %v", err)
			}
			return common.WriteProvingSystem(system, context.String("output"), context.String("output-vkey"))
		},
	}
}

func r1csCommand() *cli.Command {
	return &cli.Command{
		Name:  "r1cs",
		Usage: "compile the circuit and write its constraint system",
		Flags: []cli.Flag{
			depthFlag(),
			&cli.StringFlag{Name: "output", Usage: "output file", Required: true},
		},
		Action: func(context *cli.Context) error {
			depth, err := treeDepth(context)
			if err != nil {
				return err
			}

			logging.Logger().Info().Msg("Building R1CS")
			cs, err := prover.R1CSNonMembership(depth)
			if err != nil {
				return err
			}
			file, err := os.Create(context.String("output"))
			if err != nil {
				return err
			}
			defer func(file *os.File) {
				if err := file.Close(); err != nil {
					logging.Logger().Error().Err(err).Msg("error closing file")
				}
			}(file)
			written, err := cs.WriteTo(file)
			if err != nil {
				return err
			}
			logging.Logger().Info().
				Int64("bytesWritten", written).
				Int("constraints", cs.GetNbConstraints()).
				Msg("R1CS written to file")
			return nil
		},
	}
}

func exportVKCommand() *cli.Command {
	return &cli.Command{
		Name: "export-vk",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "keys-file", Aliases: []string{"k"}, Usage: "proving system file", Required: true},
			&cli.StringFlag{Name: "output", Usage: "output file", Required: true},
		},
		Action: func(context *cli.Context) error {
			system, err := common.ReadSystemFromFile(context.String("keys-file"))
			if err != nil {
				return fmt.Errorf("failed to read proving system: %v", err)
			}

			outputFile := context.String("output")
			if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %v", err)
			}
			if err := common.WriteVerifyingKey(system.VerifyingKey, outputFile); err != nil {
				return fmt.Errorf("failed to write verification key to file: %v", err)
			}

			logging.Logger().Info().
				Str("file", outputFile).
				Uint32("depth", system.TreeDepth).
				Msg("Verification key exported successfully")
			return nil
		},
	}
}

func extractCircuitCommand() *cli.Command {
	return &cli.Command{
		Name:  "extract-circuit",
		Usage: "render the circuit as Lean definitions",
		Flags: []cli.Flag{
			depthFlag(),
			&cli.StringFlag{Name: "output", Usage: "output file (stdout if empty)"},
		},
		Action: func(context *cli.Context) error {
			depth, err := treeDepth(context)
			if err != nil {
				return err
			}
			lean, err := prover.ExtractLean(depth)
			if err != nil {
				return err
			}
			if output := context.String("output"); output != "" {
				return os.WriteFile(output, []byte(lean), 0644)
			}
			fmt.Print(lean)
			return nil
		},
	}
}

func buildSnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "build-snapshot",
		Usage: "build the pool snapshots and the airdrop configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "network", Value: "mainnet", EnvVars: []string{"ZAIR_NETWORK"}},
			&cli.StringFlag{Name: "pool", Usage: "sapling, orchard or both", Value: "both"},
			&cli.StringFlag{Name: "range", Usage: "snapshot heights START..END", Required: true},
			depthFlag(),
			&cli.StringFlag{Name: "lightwalletd", Usage: "lightwalletd gRPC endpoint host:port", EnvVars: []string{"ZAIR_LIGHTWALLETD"}},
			&cli.BoolFlag{Name: "lightwalletd-plaintext", Usage: "connect to lightwalletd without TLS"},
			&cli.StringFlag{Name: "sapling-file", Usage: "raw sapling nullifier dump"},
			&cli.StringFlag{Name: "orchard-file", Usage: "raw orchard nullifier dump"},
			&cli.Uint64Flag{Name: "page-size", Usage: "blocks per fetch page", Value: snapshot.DefaultPageSize},
			&cli.IntFlag{Name: "fetch-workers", Value: snapshot.DefaultFetchWorkers},
			&cli.StringFlag{Name: "output-dir", Value: "."},
			&cli.StringFlag{Name: "config-out", Value: "airdrop-configuration.json"},
		},
		Action: func(context *cli.Context) error {
			network, err := common.ParseNetwork(context.String("network"))
			if err != nil {
				return err
			}
			poolSelection := context.String("pool")
			pools, err := common.ParsePoolSelection(poolSelection)
			if err != nil {
				return err
			}
			heights, err := common.ParseHeightRange(context.String("range"))
			if err != nil {
				return err
			}
			depth, err := treeDepth(context)
			if err != nil {
				return err
			}

			var source scanner.NullifierSource
			if target := context.String("lightwalletd"); target != "" {
				client, err := scanner.DialLightwalletd(target, context.Bool("lightwalletd-plaintext"))
				if err != nil {
					return err
				}
				defer client.Close()
				source = client
			} else if context.IsSet("sapling-file") || context.IsSet("orchard-file") {
				source = scanner.NewFileSource(context.String("sapling-file"), context.String("orchard-file"))
			} else {
				return fmt.Errorf("either --lightwalletd or --sapling-file/--orchard-file is required")
			}

			builder := snapshot.NewBuilder(source, network)
			builder.Depth = int(depth)
			builder.PageSize = context.Uint64("page-size")
			builder.FetchWorkers = context.Int("fetch-workers")

			if err := os.MkdirAll(context.String("output-dir"), 0755); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Context, os.Interrupt)
			defer stop()

			airdrop, err := builder.BuildAirdrop(ctx, pools, len(pools) > 1, heights, context.String("output-dir"), context.String("config-out"))
			if err != nil {
				return err
			}
			logging.Logger().Info().
				Str("network", string(airdrop.Network)).
				Str("range", airdrop.SnapshotRange.String()).
				Str("config", context.String("config-out")).
				Msg("Airdrop configuration written")
			return nil
		},
	}
}

func verifySnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify-snapshot",
		Usage: "rebuild the snapshot trees and check them against the configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "airdrop-configuration.json"},
			&cli.StringFlag{Name: "snapshot-dir", Value: "."},
		},
		Action: func(context *cli.Context) error {
			airdrop, err := snapshot.ReadConfiguration(context.String("config"))
			if err != nil {
				return err
			}
			if err := snapshot.VerifySnapshot(airdrop, context.String("snapshot-dir"), runtime.NumCPU()); err != nil {
				return err
			}
			logging.Logger().Info().Msg("Snapshot matches the airdrop configuration")
			return nil
		},
	}
}

func claimCommand() *cli.Command {
	return &cli.Command{
		Name:  "claim",
		Usage: "prove non-membership for every unspent note of a wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "airdrop-configuration.json"},
			&cli.StringFlag{Name: "snapshot-dir", Value: "."},
			&cli.StringFlag{Name: "keys-dir", Value: "./proving-keys/", EnvVars: []string{"ZAIR_KEYS_DIR"}},
			&cli.StringFlag{Name: "sapling-key", Usage: "hex sapling viewing key", EnvVars: []string{"ZAIR_SAPLING_VIEWING_KEY"}},
			&cli.StringFlag{Name: "orchard-key", Usage: "hex orchard viewing key", EnvVars: []string{"ZAIR_ORCHARD_VIEWING_KEY"}},
			&cli.Uint64Flag{Name: "birthday", Usage: "wallet birthday height"},
			&cli.StringFlag{Name: "notes-file", Usage: "notes found by a local wallet scan", Required: true},
			&cli.IntFlag{Name: "workers", Value: runtime.NumCPU()},
			&cli.StringFlag{Name: "output", Value: "claims.json"},
			&cli.StringFlag{Name: "report", Value: "claim-report.json"},
		},
		Action: func(context *cli.Context) error {
			airdrop, err := snapshot.ReadConfiguration(context.String("config"))
			if err != nil {
				return err
			}
			keys, err := scanner.ParseViewingKeys(context.String("sapling-key"), context.String("orchard-key"), context.Uint64("birthday"))
			if err != nil {
				return err
			}

			noteScanner := &scanner.NotesFile{Path: context.String("notes-file")}

			trees, err := claim.LoadTrees(airdrop, context.String("snapshot-dir"), keys.Pools(), runtime.NumCPU())
			if err != nil {
				return err
			}

			// fail before scanning when the proving key is missing
			systems := common.NewLazyKeyManager(context.String("keys-dir"), nil)
			loaded, err := prover.LoadKeys(context.String("keys-dir"), []uint32{airdrop.Depth()})
			if err != nil {
				return err
			}
			for _, ps := range loaded {
				systems.Register(ps)
			}

			pipeline := claim.NewPipeline(airdrop, trees, systems, noteScanner)
			pipeline.Workers = context.Int("workers")

			ctx, stop := signal.NotifyContext(context.Context, os.Interrupt)
			defer stop()

			claims, report, err := pipeline.Run(ctx, keys)
			if err != nil {
				return err
			}
			if err := prover.WriteClaimSet(context.String("output"), claims); err != nil {
				return err
			}
			if err := report.Write(context.String("report")); err != nil {
				return err
			}
			logging.Logger().Info().
				Int("claims", len(claims.Claims)).
				Str("output", context.String("output")).
				Str("report", context.String("report")).
				Msg("Claims written")
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "verify a claim set against the published roots",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "claims", Value: "claims.json"},
			&cli.StringFlag{Name: "config", Value: "airdrop-configuration.json"},
			&cli.StringFlag{Name: "vkey", Usage: "verifying key file (default: <keys-dir>/non-membership_<depth>.vkey)"},
			&cli.StringFlag{Name: "keys-dir", Value: "./proving-keys/", EnvVars: []string{"ZAIR_KEYS_DIR"}},
			&cli.StringFlag{Name: "output", Usage: "write per-claim results as JSON"},
		},
		Action: func(context *cli.Context) error {
			airdrop, err := snapshot.ReadConfiguration(context.String("config"))
			if err != nil {
				return err
			}
			published, err := airdrop.Published()
			if err != nil {
				return err
			}
			vkPath := context.String("vkey")
			if vkPath == "" {
				vkPath = filepath.Join(context.String("keys-dir"), common.VerifyingKeyFileName(airdrop.Depth()))
			}
			vk, err := common.LoadVerifyingKey(vkPath)
			if err != nil {
				return err
			}
			set, err := prover.ReadClaimSet(context.String("claims"))
			if err != nil {
				return err
			}

			verifier := prover.NewVerifier(vk, airdrop.HidingDomains()...)
			results := verifier.VerifyClaimSet(set, published)

			invalid := 0
			for _, result := range results {
				if !result.Valid {
					invalid++
				}
			}
			if output := context.String("output"); output != "" {
				var buf bytes.Buffer
				encoder := json.NewEncoder(&buf)
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(results); err != nil {
					return err
				}
				if err := os.WriteFile(output, buf.Bytes(), 0644); err != nil {
					return err
				}
			}

			logging.Logger().Info().
				Int("claims", len(results)).
				Int("invalid", invalid).
				Msg("Verification finished")
			if invalid > 0 {
				return fmt.Errorf("%d of %d claims are invalid", invalid, len(results))
			}
			return nil
		},
	}
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "run the prover service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "service configuration (TOML)", EnvVars: []string{"ZAIR_PROVER_CONFIG"}},
			&cli.StringFlag{Name: "prover-address", Usage: "address for the prover server"},
			&cli.StringFlag{Name: "metrics-address", Usage: "address for the metrics server"},
			&cli.StringFlag{Name: "keys-dir", Usage: "directory where key files are stored", EnvVars: []string{"ZAIR_KEYS_DIR"}},
			&cli.Int64SliceFlag{Name: "depth", Usage: "tree depths to serve"},
			&cli.StringFlag{Name: "airdrop-config", Usage: "airdrop configuration enabling /verify"},
			&cli.StringFlag{Name: "redis-url", Usage: "Redis URL for the job queue", EnvVars: []string{"REDIS_URL"}},
			&cli.BoolFlag{Name: "queue-only", Usage: "run queue workers without the HTTP server"},
			&cli.BoolFlag{Name: "server-only", Usage: "run the HTTP server without queue workers"},
		},
		Action: func(context *cli.Context) error {
			cfg, err := serviceConfig(context)
			if err != nil {
				return err
			}
			if cfg.JSONLogs {
				logging.SetJSONOutput()
			}
			if err := logging.SetLevel(cfg.LogLevel); err != nil {
				return err
			}

			keys := common.NewLazyKeyManager(cfg.KeysDir, &common.DownloadConfig{
				BaseURL:       cfg.Download.BaseURL,
				MaxRetries:    cfg.Download.MaxRetries,
				RetryDelay:    common.DefaultRetryDelay,
				MaxRetryDelay: common.DefaultMaxRetryDelay,
				AutoDownload:  cfg.Download.Auto,
			})
			if cfg.Preload {
				if err := keys.PreloadDepths(cfg.Depths); err != nil {
					return err
				}
			}

			var verification *server.Verification
			if cfg.AirdropFile != "" {
				if verification, err = loadVerification(cfg.AirdropFile, keys); err != nil {
					return err
				}
			}

			queueOnly := context.Bool("queue-only")
			serverOnly := context.Bool("server-only")
			enableQueue := cfg.Queue.RedisURL != "" && !serverOnly
			enableServer := !queueOnly
			if !enableServer && !enableQueue {
				return fmt.Errorf("at least one of server or queue mode must be enabled")
			}

			logging.Logger().Info().
				Bool("enable_queue", enableQueue).
				Bool("enable_server", enableServer).
				Interface("depths", cfg.Depths).
				Msg("Starting prover service")

			var jobs []server.RunningJob
			var workers []server.QueueWorker
			var redisQueue *server.RedisQueue

			if cfg.Queue.RedisURL != "" {
				redisQueue, err = server.NewRedisQueue(cfg.Queue.RedisURL)
				if err != nil {
					return fmt.Errorf("failed to connect to Redis: %w", err)
				}
				defer redisQueue.Close()
				if stats, err := redisQueue.GetQueueStats(); err == nil {
					logging.Logger().Info().Interface("initial_queue_stats", stats).Msg("Redis connection successful")
				}
			}

			if enableQueue {
				if err := redisQueue.CleanupStuckProcessingJobs(); err != nil {
					logging.Logger().Error().Err(err).Msg("Startup cleanup failed")
				}
				jobs = append(jobs, redisQueue.StartCleanupRoutine(10*time.Minute))
				for i := 0; i < cfg.Queue.Workers; i++ {
					worker := server.NewClaimQueueWorker(redisQueue, keys, cfg.Depths)
					workers = append(workers, worker)
					go worker.Start()
				}
				logging.Logger().Info().Int("workers", len(workers)).Msg("Queue workers started")
			}

			if enableServer {
				serverConfig := server.Config{
					ProverAddress:  cfg.Server.ProverAddress,
					MetricsAddress: cfg.Server.MetricsAddress,
					CORSOrigins:    cfg.Server.CORSOrigins,
					APIKey:         server.APIKeyFromEnv(),
					Depths:         cfg.Depths,
				}
				jobs = append(jobs, server.Run(&serverConfig, redisQueue, keys, verification))
			}

			sigint := make(chan os.Signal, 1)
			signal.Notify(sigint, os.Interrupt)
			<-sigint
			logging.Logger().Info().Msg("Received sigint, shutting down")

			for i, worker := range workers {
				logging.Logger().Info().Int("worker_id", i+1).Msg("Stopping worker")
				worker.Stop()
			}
			instance := server.CombineJobs(jobs...)
			instance.RequestStop()
			instance.AwaitStop()

			if redisQueue != nil {
				if stats, err := redisQueue.GetQueueStats(); err == nil {
					logging.Logger().Info().Interface("final_queue_stats", stats).Msg("Final queue statistics")
				}
			}
			logging.Logger().Info().Msg("Shutdown completed")
			return nil
		},
	}
}

// serviceConfig reads the TOML file, if any, and applies flag overrides.
func serviceConfig(context *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := context.String("config"); path != "" {
		var err error
		if cfg, err = config.ReadConfig(path); err != nil {
			return cfg, err
		}
	}

	if context.IsSet("prover-address") {
		cfg.Server.ProverAddress = context.String("prover-address")
	}
	if context.IsSet("metrics-address") {
		cfg.Server.MetricsAddress = context.String("metrics-address")
	}
	if context.IsSet("keys-dir") {
		cfg.KeysDir = context.String("keys-dir")
	}
	if context.IsSet("airdrop-config") {
		cfg.AirdropFile = context.String("airdrop-config")
	}
	if context.IsSet("redis-url") {
		cfg.Queue.RedisURL = context.String("redis-url")
	}
	if context.IsSet("json-logging") {
		cfg.JSONLogs = context.Bool("json-logging")
	}
	if context.IsSet("log-level") {
		cfg.LogLevel = context.String("log-level")
	}
	if context.IsSet("depth") {
		depths, err := prover.ParseDepths(context.Int64Slice("depth"))
		if err != nil {
			return cfg, err
		}
		cfg.Depths = depths
	}
	return cfg, nil
}

func loadVerification(path string, keys *common.LazyKeyManager) (*server.Verification, error) {
	airdrop, err := snapshot.ReadConfiguration(path)
	if err != nil {
		return nil, err
	}
	published, err := airdrop.Published()
	if err != nil {
		return nil, err
	}
	system, err := keys.GetSystem(airdrop.Depth())
	if err != nil {
		return nil, fmt.Errorf("loading verifying key for depth %d: %w", airdrop.Depth(), err)
	}
	return &server.Verification{
		Verifier:  prover.NewVerifier(system.VerifyingKey, airdrop.HidingDomains()...),
		Published: published,
	}, nil
}
