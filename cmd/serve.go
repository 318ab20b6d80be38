package cmd

import (
	"crypto/ecdsa"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voting-ledger/api"
	"voting-ledger/config"
	"voting-ledger/encryption"
	"voting-ledger/service"
	"voting-ledger/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().String("admin-token", "", "Shared secret expected in X-Admin-Token")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.admin_token", serveCmd.Flags().Lookup("admin-token"))
}

type keyMaterial struct {
	master     []byte
	hashSecret []byte
	signer     *ecdsa.PrivateKey
}

func loadKeys(cfg config.KeyConfig) (*keyMaterial, error) {
	var (
		keys keyMaterial
		err  error
	)
	if cfg.MasterKey != "" {
		keys.master, err = encryption.ParseHexKey(cfg.MasterKey)
	} else {
		keys.master, err = encryption.LoadOrGenerateSecret(cfg.MasterKeyFile)
	}
	if err != nil {
		return nil, err
	}
	if keys.hashSecret, err = encryption.LoadOrGenerateSecret(cfg.HashSecretFile); err != nil {
		return nil, err
	}
	if keys.signer, err = encryption.LoadOrGenerateSigningKey(cfg.SigningKeyFile); err != nil {
		return nil, err
	}
	return &keys, nil
}

func serve(cfg *config.Config) error {
	keys, err := loadKeys(cfg.Keys)
	if err != nil {
		return err
	}
	cryptoService, err := encryption.NewCryptoService(keys.master, keys.hashSecret, keys.signer)
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Store.Path, storage.Options{NoSync: cfg.Store.NoSync, Timeout: cfg.Store.OpenTimeout})
	if err != nil {
		return err
	}
	defer store.Close()

	snapshots, err := storage.NewSnapshotStore(cfg.Store.SnapshotDir, cfg.Store.SnapshotKeep)
	if err != nil {
		return err
	}

	votingService, err := service.NewVotingService(store, cryptoService, snapshots, service.Config{
		DefaultVoteDuration: cfg.Voting.DefaultVoteDuration,
		TreeCacheSize:       cfg.Voting.TreeCacheSize,
		SweepBatchSize:      cfg.Voting.SweepBatchSize,
	})
	if err != nil {
		return err
	}

	if cfg.Server.AdminToken == "" {
		logrus.Warn("no admin token configured, admin endpoints are disabled")
	}

	sweeper := service.NewSessionSweeper(votingService, cfg.Voting.SweepInterval)
	sweeper.Start()

	server := api.NewServer(votingService, cfg.Server)
	server.Start()

	logrus.WithFields(logrus.Fields{
		"pid":    os.Getpid(),
		"signer": cryptoService.SignerAddress(),
		"store":  store.Path(),
	}).Info("voting ledger started")

	// prevent sudden stop. Do your clean up here
	gracefulStop := make(chan os.Signal, 1)
	signal.Notify(gracefulStop, syscall.SIGTERM, syscall.SIGINT)
	sig := <-gracefulStop
	logrus.Warnf("caught sig: %+v", sig)

	server.Stop()
	sweeper.Stop()
	logrus.Info("shutdown completed")
	return nil
}
