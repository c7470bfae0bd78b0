package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xisvar/the-oan/internal/api"
	"github.com/xisvar/the-oan/internal/cache"
	"github.com/xisvar/the-oan/internal/config"
	"github.com/xisvar/the-oan/internal/crypto"
	"github.com/xisvar/the-oan/internal/ledger"
	"github.com/xisvar/the-oan/internal/logging"
	"github.com/xisvar/the-oan/internal/matching"
	"github.com/xisvar/the-oan/internal/merit"
	"github.com/xisvar/the-oan/internal/metrics"
	"github.com/xisvar/the-oan/internal/rules"
	"github.com/xisvar/the-oan/internal/service"
	"github.com/xisvar/the-oan/internal/storage"
	"github.com/xisvar/the-oan/internal/storage/ledgerpostgres"
	"github.com/xisvar/the-oan/internal/storage/memory"
	"github.com/xisvar/the-oan/internal/storage/sqlite"
)

type NodeApplication struct {
	Server  *http.Server
	Store   storage.EventLog
	Ledger  *ledger.Ledger
	Service *service.AdmissionsService

	closers []func() error
}

// OpenStore opens the event log selected by cfg.Storage.Driver.
func OpenStore(ctx context.Context, cfg *config.NodeConfig) (storage.EventLog, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := ledgerpostgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns, cfg.Logging.NodeID)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
}

// OpenKeys opens the sealed keystore, or an in-memory one when no path is
// configured. Imported key pairs are added first; the node signer and the
// configured actors then get generated keys if they still have none.
func OpenKeys(cfg *config.NodeConfig) (*crypto.KeyStore, error) {
	keys := crypto.NewMemoryKeyStore()
	if cfg.Keys.KeystorePath != "" {
		master, err := crypto.ParseMasterKey(cfg.Keys.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("parse master key: %w", err)
		}
		if keys, err = crypto.OpenKeyStore(cfg.Keys.KeystorePath, master); err != nil {
			return nil, fmt.Errorf("open keystore: %w", err)
		}
	}
	for _, imp := range cfg.Keys.Imports {
		signer, err := crypto.LoadSigner(imp.ActorID, imp.PrivateKeyPath, imp.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load key for %s: %w", imp.ActorID, err)
		}
		if existing, ok := keys.Lookup(imp.ActorID); ok {
			if existing.KeyID != signer.KeyID {
				return nil, fmt.Errorf("keystore already holds a different key for %s", imp.ActorID)
			}
			continue
		}
		if err := keys.Import(signer); err != nil {
			return nil, fmt.Errorf("import key for %s: %w", imp.ActorID, err)
		}
	}
	for _, actor := range append([]string{cfg.Keys.NodeSignerID}, cfg.Keys.Actors...) {
		if _, ok := keys.Lookup(actor); ok {
			continue
		}
		if _, err := keys.Generate(actor); err != nil && !errors.Is(err, crypto.ErrKeyExists) {
			return nil, fmt.Errorf("generate key for %s: %w", actor, err)
		}
	}
	return keys, nil
}

func BuildNode(ctx context.Context, cfg *config.NodeConfig, logger *slog.Logger) (*NodeApplication, error) {
	keys, err := OpenKeys(cfg)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &NodeApplication{Store: store}
	a.closers = append(a.closers, store.Close)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	l, err := ledger.New(ctx, ledger.Params{
		Log:               store,
		Signer:            keys,
		Keys:              keys,
		Logger:            logger,
		Metrics:           m,
		MaxAppendAttempts: cfg.Ledger.MaxAppendAttempts,
		AppendTimeout:     cfg.AppendTimeout(),
		VerifySignatures:  *cfg.Ledger.VerifySignatures,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.Ledger = l

	validator, err := rules.NewValidator()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("compile schemas: %w", err)
	}

	mode, err := merit.ParseMode(cfg.Matching.Mode)
	if err != nil {
		a.close()
		return nil, err
	}
	ms, err := matching.New(matching.Params{
		Source:  l,
		Logger:  logger,
		Metrics: m,
		Workers: cfg.Matching.Workers,
		Scoring: matching.Scoring{
			Mode:              mode,
			NormMin:           cfg.Matching.NormMin,
			NormMax:           cfg.Matching.NormMax,
			ProgramDifficulty: cfg.Matching.ProgramDifficulty,
			SubjectWeights:    cfg.Matching.SubjectWeights,
		},
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build matching service: %w", err)
	}

	var profiles cache.ProfileCache = cache.NewMemory()
	if cfg.Cache.RedisAddr != "" {
		client, err := cache.Dial(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			a.close()
			return nil, err
		}
		rc := cache.NewRedis(client, cfg.CacheTTL())
		a.closers = append(a.closers, rc.Close)
		profiles = rc
	}

	svc, err := service.NewAdmissions(service.AdmissionsParams{
		Ledger:     l,
		Validator:  validator,
		Matching:   ms,
		Keys:       keys,
		Cache:      profiles,
		Metrics:    m,
		Logger:     logger,
		NodeID:     cfg.Logging.NodeID,
		WriteToken: cfg.Security.WriteToken,
		Service:    cfg.Logging.Service,
		Version:    cfg.Logging.Version,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build admissions service: %w", err)
	}
	a.Service = svc

	handler := api.NewHandler(svc, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), cfg.Server.MaxBodyBytes)
	env := logging.Environment{
		Service: cfg.Logging.Service,
		Version: cfg.Logging.Version,
		Commit:  cfg.Logging.Commit,
		Region:  cfg.Logging.Region,
		NodeID:  cfg.Logging.NodeID,
	}
	root := logging.Middleware(logger, env)(handler.Router())

	a.Server = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           root,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return a, nil
}

func (a *NodeApplication) Shutdown(ctx context.Context) error {
	defer a.close()
	return a.Server.Shutdown(ctx)
}

func (a *NodeApplication) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
