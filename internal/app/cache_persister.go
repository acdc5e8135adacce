package app

import (
	"context"
	"time"
	"whalewatch/clients/gist"
	"whalewatch/config"

	"go.uber.org/zap"
)

// CachePersister periodically uploads wallet profiles and entity state to
// a GitHub Gist so restarts keep their history.
type CachePersister struct {
	logger           *zap.Logger
	gistClient       *gist.Client
	wallets          *WalletStore
	entities         *EntityEngine
	saveInterval     time.Duration
	profilesFileName string
	entitiesFileName string
	maxSizeBytes     int64
}

func NewCachePersister(logger *zap.Logger, cfg *config.Config, gistClient *gist.Client, wallets *WalletStore, entities *EntityEngine) *CachePersister {
	if logger == nil {
		logger = zap.NewNop()
	}

	profilesFileName := cfg.Cache.ProfilesFileName
	if profilesFileName == "" {
		profilesFileName = "wallet_profiles.json"
	}
	entitiesFileName := cfg.Cache.EntitiesFileName
	if entitiesFileName == "" {
		entitiesFileName = "entities.json"
	}

	return &CachePersister{
		logger:           logger,
		gistClient:       gistClient,
		wallets:          wallets,
		entities:         entities,
		saveInterval:     cfg.Cache.SaveInterval,
		profilesFileName: profilesFileName,
		entitiesFileName: entitiesFileName,
		maxSizeBytes:     cfg.Cache.MaxSizeBytes,
	}
}

// Load restores wallet profiles and entities from the gist. Missing or
// empty files start fresh without error.
func (cp *CachePersister) Load(ctx context.Context) (wallets, entities int, err error) {
	if !cp.gistClient.IsEnabled() {
		cp.logger.Info("gist client not configured, skipping cache load")
		return 0, 0, nil
	}

	content, err := cp.gistClient.Load(ctx, cp.profilesFileName)
	if err != nil {
		cp.logger.Warn("failed to load wallet profiles from gist",
			zap.String("fileName", cp.profilesFileName),
			zap.Error(err),
		)
	} else if content != "" {
		wallets, err = cp.wallets.ImportJSON([]byte(content))
		if err != nil {
			cp.logger.Warn("failed to parse wallet profiles JSON",
				zap.Int("contentLen", len(content)),
				zap.Error(err),
			)
		}
	}

	content, entErr := cp.gistClient.Load(ctx, cp.entitiesFileName)
	if entErr != nil {
		cp.logger.Warn("failed to load entities from gist",
			zap.String("fileName", cp.entitiesFileName),
			zap.Error(entErr),
		)
		if err == nil {
			err = entErr
		}
	} else if content != "" {
		entities, entErr = cp.entities.ImportJSON([]byte(content))
		if entErr != nil {
			cp.logger.Warn("failed to parse entities JSON",
				zap.Int("contentLen", len(content)),
				zap.Error(entErr),
			)
			if err == nil {
				err = entErr
			}
		}
	}

	cp.logger.Info("loaded cache from gist",
		zap.Int("wallets", wallets),
		zap.Int("entities", entities),
	)
	return wallets, entities, err
}

// Save uploads the current wallet profiles and entity state.
func (cp *CachePersister) Save(ctx context.Context) error {
	if !cp.gistClient.IsEnabled() {
		return nil
	}

	if cp.wallets.Count() > 0 {
		if cp.maxSizeBytes > 0 {
			if evicted := cp.wallets.TrimToMaxSize(cp.maxSizeBytes); evicted > 0 {
				cp.logger.Info("trimmed wallet profiles for gist save", zap.Int("evicted", evicted))
			}
		}

		data, err := cp.wallets.ExportJSON()
		if err != nil {
			return err
		}
		if err := cp.gistClient.Save(ctx, cp.profilesFileName, string(data)); err != nil {
			return err
		}
	}

	entityData, err := cp.entities.ExportJSON()
	if err != nil {
		return err
	}
	if err := cp.gistClient.Save(ctx, cp.entitiesFileName, string(entityData)); err != nil {
		return err
	}

	cp.logger.Info("saved cache to gist",
		zap.String("gistID", cp.gistClient.GetGistID()),
		zap.Int("wallets", cp.wallets.Count()),
	)
	return nil
}

// Run starts the periodic save loop and performs a final save on shutdown.
func (cp *CachePersister) Run(ctx context.Context) {
	if !cp.gistClient.IsEnabled() {
		cp.logger.Info("gist client not configured, cache persistence disabled")
		return
	}

	ticker := time.NewTicker(cp.saveInterval)
	defer ticker.Stop()

	cp.logger.Info("cache persister started",
		zap.Duration("saveInterval", cp.saveInterval),
	)

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := cp.Save(saveCtx); err != nil {
				cp.logger.Error("failed to save cache on shutdown", zap.Error(err))
			}
			cancel()
			cp.logger.Info("cache persister stopped")
			return

		case <-ticker.C:
			if err := cp.Save(ctx); err != nil {
				cp.logger.Warn("failed to save cache", zap.Error(err))
			}
		}
	}
}
