// Command engine is the trading engine process: it loads configuration,
// opens the persistence port, builds one internal/engine.Engine per
// active user, and runs until SIGINT/SIGTERM. Grounded on the teacher's
// cmd/main.go bootstrap/shutdown shape, generalized from one global bot
// instance to a per-user engine map.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/oddsdesk/lineguard/internal/apperr"
	"github.com/oddsdesk/lineguard/internal/config"
	"github.com/oddsdesk/lineguard/internal/confirmation"
	"github.com/oddsdesk/lineguard/internal/control"
	"github.com/oddsdesk/lineguard/internal/discovery"
	"github.com/oddsdesk/lineguard/internal/engine"
	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/internal/exchange/clobrest"
	"github.com/oddsdesk/lineguard/internal/exchange/evmclob"
	"github.com/oddsdesk/lineguard/internal/guardian"
	"github.com/oddsdesk/lineguard/internal/notify"
	"github.com/oddsdesk/lineguard/internal/reconcile"
	"github.com/oddsdesk/lineguard/internal/sports"
	"github.com/oddsdesk/lineguard/internal/store/gormstore"
	"github.com/oddsdesk/lineguard/internal/telemetry"
	"github.com/oddsdesk/lineguard/types"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	telemetry.Init(cfg.Debug)
	logger := telemetry.For("cmd.engine")
	logger.Info().Bool("dry_run", cfg.DryRun).Msg("starting trading engine")

	db, err := gormstore.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open persistence port")
	}
	defer db.Close()

	sink, err := notify.New(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.NotifyWebhookURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init notification sink")
	}

	sportsClient := sports.New(cfg.SportsFeedBaseURL)

	phaseTable, err := config.LoadPhaseTable(cfg.SportsConfigPath)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load sport phase table, falling back to defaults for every sport")
		phaseTable = nil
	}

	scopes, err := buildEngines(cfg, db, sink, sportsClient, phaseTable)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build per-user engines")
	}

	ctx, cancel := context.WithCancel(context.Background())
	for userID, sc := range scopes {
		if err := sc.Engine.Start(ctx); err != nil {
			logger.Error().Err(err).Str("user_id", userID.String()).Msg("engine failed to start")
		}
	}

	ctl, err := startControlServer(cfg, db, scopes)
	if err != nil {
		logger.Error().Err(err).Msg("control server failed to start, admin verbs unavailable")
	} else {
		defer ctl.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Warn().Msg("shutdown signal received, draining engines")
	for _, sc := range scopes {
		sc.Engine.Drain()
	}
	time.Sleep(2 * time.Second)

	cancel()
	for _, sc := range scopes {
		sc.Engine.Stop()
	}
	logger.Info().Msg("shutdown complete")
}

// userScope bundles one user's running engine with the collaborators the
// control server needs to execute admin verbs against it.
type userScope struct {
	Engine   *engine.Engine
	Guardian *guardian.Guardian
	Accounts []engine.Account
}

func startControlServer(cfg *config.Config, db *gormstore.Store, scopes map[uuid.UUID]*userScope) (*control.Server, error) {
	srv, err := control.NewServer(cfg.ControlSocketPath, &controlHandler{cfg: cfg, db: db, scopes: scopes})
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Serve(); err != nil {
			telemetry.For("cmd.engine.control").Warn().Err(err).Msg("control server stopped")
		}
	}()
	return srv, nil
}

// buildEngines wires one Engine per user with an active account, per
// account platform, sport config, guardian, reconciler and confirmer.
func buildEngines(cfg *config.Config, db *gormstore.Store, sink *notify.Sink, sportsClient *sports.Client, phaseTable *config.PhaseTable) (map[uuid.UUID]*userScope, error) {
	ctx := context.Background()
	clobPool := exchange.NewPool(func(accountID uuid.UUID, creds exchange.Credentials, dryRun bool) (exchange.Adapter, error) {
		c, ok := creds.(clobrest.Credentials)
		if !ok {
			return nil, errInvalidCredentials(accountID, "clob_rest")
		}
		return clobrest.New(cfg.ClobRestBaseURL, c, dryRun, cfg.AdapterRateLimitRPS), nil
	})
	evmPool := exchange.NewPool(func(accountID uuid.UUID, creds exchange.Credentials, dryRun bool) (exchange.Adapter, error) {
		c, ok := creds.(evmclob.Credentials)
		if !ok {
			return nil, errInvalidCredentials(accountID, "evm_clob")
		}
		return evmclob.New(cfg.EvmClobBaseURL, cfg.EvmClobWSURL, c, dryRun, cfg.AdapterRateLimitRPS), nil
	})

	out := make(map[uuid.UUID]*userScope)

	users, err := listAllUsers(ctx, db)
	if err != nil {
		return nil, err
	}

	for _, user := range users {
		accountsRaw, err := db.ListActiveAccounts(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if len(accountsRaw) == 0 {
			continue
		}

		settings, err := db.GetGlobalSettings(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		sportConfigs, err := db.ListSportConfigs(ctx, user.ID)
		if err != nil {
			return nil, err
		}

		sportMap := make(map[string]*types.SportConfig, len(sportConfigs))
		for _, sc := range sportConfigs {
			sportMap[sc.Sport] = sc
		}

		accounts := make([]engine.Account, 0, len(accountsRaw))
		authFailed := false
		for _, acct := range accountsRaw {
			creds, err := decodeCredentials(acct)
			if err != nil {
				authErr := apperr.New(apperr.Auth, "cmd.engine.decodeCredentials", err)
				telemetry.For("cmd.engine").Error().Err(authErr).Str("user_id", user.ID.String()).Str("account_id", acct.ID.String()).
					Msg("undecodable credentials, abandoning this user's engine scope")
				authFailed = true
				break
			}

			var adapter exchange.Adapter
			switch acct.Platform {
			case types.PlatformClobRest:
				adapter, err = clobPool.Get(acct.ID, creds, cfg.DryRun)
			case types.PlatformEvmClob:
				adapter, err = evmPool.Get(acct.ID, creds, cfg.DryRun)
			default:
				continue
			}
			if err != nil {
				return nil, err
			}

			accounts = append(accounts, engine.Account{
				ID:            acct.ID.String(),
				Platform:      acct.Platform,
				Adapter:       adapter,
				Confirmer:     confirmation.New(adapter, decimal.NewFromFloat(0.5), cfg.DefaultMaxSlippagePct),
				AllocationPct: acct.AllocationPct,
				IsPrimary:     acct.IsPrimary,
			})
		}

		if authFailed || len(accounts) == 0 {
			continue
		}

		g := guardian.New(settings, sink)
		r := reconcile.New(db, sink, reconcile.DefaultOrphanAlertThreshold)

		e := engine.New(engine.Dependencies{
			UserID:         user.ID,
			Sports:         sportsClient,
			Guardian:       g,
			Reconciler:     r,
			Store:          db,
			Notifier:       sink,
			Accounts:       accounts,
			SportConfigs:   sportMap,
			Filters:        discovery.Filters{HoursAhead: 48 * time.Hour},
			MinConfidence:  mustFloat(cfg.DefaultMinConfidence),
			WorkerPoolSize: cfg.AdapterWorkerPoolSize,
			PhaseTable:     phaseTable,
		})

		out[user.ID] = &userScope{Engine: e, Guardian: g, Accounts: accounts}
	}

	return out, nil
}

func listAllUsers(ctx context.Context, db *gormstore.Store) ([]*types.User, error) {
	return db.ListUsers(ctx)
}

// decodeCredentials turns an account's opaque EncryptedCreds blob into a
// platform-specific exchange.Credentials. Decryption at rest is handled
// by an out-of-scope collaborator per the data model's ownership note;
// here the blob is treated as already-decrypted JSON for each platform's
// Credentials shape.
func decodeCredentials(acct *types.Account) (exchange.Credentials, error) {
	switch acct.Platform {
	case types.PlatformClobRest:
		var raw struct {
			KeyID      string `json:"key_id"`
			PrivateKey string `json:"private_key_pem"`
		}
		if err := json.Unmarshal(acct.EncryptedCreds, &raw); err != nil {
			return nil, err
		}
		key, err := clobrest.LoadPrivateKey([]byte(raw.PrivateKey))
		if err != nil {
			return nil, err
		}
		return clobrest.Credentials{KeyID: raw.KeyID, PrivateKey: key}, nil
	case types.PlatformEvmClob:
		var raw struct {
			PrivateKeyHex string `json:"private_key_hex"`
			FunderAddress string `json:"funder_address"`
			APIKey        string `json:"api_key"`
			APISecret     string `json:"api_secret"`
			Passphrase    string `json:"passphrase"`
		}
		if err := json.Unmarshal(acct.EncryptedCreds, &raw); err != nil {
			return nil, err
		}
		key, address, err := evmclob.LoadPrivateKey(raw.PrivateKeyHex)
		if err != nil {
			return nil, err
		}
		return evmclob.Credentials{
			PrivateKey:    key,
			Address:       address,
			FunderAddress: raw.FunderAddress,
			APIKey:        raw.APIKey,
			APISecret:     raw.APISecret,
			Passphrase:    raw.Passphrase,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported platform %q for account %s", acct.Platform, acct.ID)
	}
}

func errInvalidCredentials(accountID uuid.UUID, platform string) error {
	return fmt.Errorf("account %s: credentials do not match platform %s", accountID, platform)
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
