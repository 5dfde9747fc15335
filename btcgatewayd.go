// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcgateway/deposit"
	"github.com/btcsuite/btcgateway/gateway"
	"github.com/btcsuite/btcgateway/headerchain"
	"github.com/btcsuite/btcgateway/internal/cfgutil"
	"github.com/btcsuite/btcgateway/internal/localledger"
	"github.com/btcsuite/btcgateway/relay"
	"github.com/btcsuite/btcgateway/withdrawal"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

const dbTimeout = 60 * time.Second

var cfg *config

func main() {
	// Work around defer not working after os.Exit.
	if err := gatewayMain(); err != nil {
		os.Exit(1)
	}
}

// gatewayMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func gatewayMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	interrupt := interruptListener()

	log.Infof("Version %s on %s", version(), activeNet.Params.Name)

	db, created, err := openDB()
	if err != nil {
		log.Errorf("Unable to open gateway database: %v", err)
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorf("Unable to close gateway database: %v", err)
		}
	}()

	current, previous, err := trusteeSets()
	if err != nil {
		log.Error(err)
		return err
	}
	log.Infof("Trustee hot address %v, cold address %v (%d of %d)",
		current.Hot.Address, current.Cold.Address, current.Threshold(),
		len(current.Trustees))

	forkChoice, _ := headerchain.ParseForkChoice(cfg.ForkChoice)
	ledger := localledger.Ledger{}
	gw := gateway.New(&gateway.Config{
		DB:          db,
		ChainParams: activeNet.Params,
		Chain: headerchain.New(&headerchain.Config{
			ChainParams:       activeNet.Params,
			ConfirmationDepth: cfg.Confirmations,
			ForkChoice:        forkChoice,
		}),
		Deposits: deposit.New(nil),
		Coordinator: withdrawal.New(&withdrawal.Config{
			ChainParams: activeNet.Params,
		}),
		Ledger: ledger,
		Withdrawals: &localledger.WithdrawalStore{
			Ledger:      ledger,
			ChainParams: activeNet.Params,
		},
		Trustees:  localledger.NewTrusteeRegistry(current, previous),
		Authority: cfg.Authority,
		Params: gateway.Params{
			WithdrawalFee:      cfg.WithdrawalFee.Amount,
			MinDeposit:         cfg.MinDeposit.Amount,
			MaxWithdrawalCount: cfg.MaxWithdrawalCount,
		},
	})

	chainClient, err := newChainClient()
	if err != nil {
		log.Errorf("Unable to create btcd RPC client: %v", err)
		return err
	}
	defer chainClient.Shutdown()

	startHeight, err := initGateway(gw, chainClient, created)
	if err != nil {
		log.Errorf("Unable to initialize gateway: %v", err)
		return err
	}

	if interruptRequested(interrupt) {
		return nil
	}

	var watch [][]byte
	watch = append(watch, current.Hot.PkScript, current.Cold.PkScript)
	previous.WhenSome(func(set *withdrawal.TrusteeSet) {
		watch = append(watch, set.Hot.PkScript, set.Cold.PkScript)
	})
	relayer := relay.New(&relay.Config{
		Chain:        chainClient,
		Gateway:      gw,
		Caller:       cfg.RelayerAccount,
		WatchScripts: watch,
		StartHeight:  startHeight,
		PollTicker:   ticker.New(cfg.PollInterval),
		FetchWorkers: cfg.FetchWorkers,
	})
	relayer.Start()

	<-interrupt
	relayer.Stop()
	log.Info("Shutdown complete")
	return nil
}

// openDB opens the gateway database of the active network, creating it and
// the local ledger when missing.
func openDB() (walletdb.DB, bool, error) {
	netDir := filepath.Join(cfg.AppDataDir.Value, activeNet.Params.Name)
	dbPath := filepath.Join(netDir, gatewayDbName)
	exists, err := cfgutil.FileExists(dbPath)
	if err != nil {
		return nil, false, err
	}
	if exists {
		db, err := walletdb.Open("bdb", dbPath, true, dbTimeout, false)
		return db, false, err
	}

	if err := os.MkdirAll(netDir, 0700); err != nil {
		return nil, false, err
	}
	db, err := walletdb.Create("bdb", dbPath, true, dbTimeout, false)
	if err != nil {
		return nil, false, err
	}
	if err := walletdb.Update(db, localledger.Create); err != nil {
		db.Close()
		return nil, false, err
	}
	log.Infof("Created gateway database %s", dbPath)
	return db, true, nil
}

func trusteeSets() (*withdrawal.TrusteeSet, fn.Option[*withdrawal.TrusteeSet], error) {
	none := fn.None[*withdrawal.TrusteeSet]()
	current, err := withdrawal.NewTrusteeSet(activeNet.Params,
		cfgutil.Trustees(cfg.Trustees), !cfg.P2SH)
	if err != nil {
		return nil, none, fmt.Errorf("current trustees: %w", err)
	}
	if len(cfg.PrevTrustees) == 0 {
		return current, none, nil
	}
	previous, err := withdrawal.NewTrusteeSet(activeNet.Params,
		cfgutil.Trustees(cfg.PrevTrustees), !cfg.P2SH)
	if err != nil {
		return nil, none, fmt.Errorf("previous trustees: %w", err)
	}
	return current, fn.Some(previous), nil
}

func newChainClient() (*rpcclient.Client, error) {
	var certs []byte
	if !cfg.DisableClientTLS {
		var err error
		certs, err = os.ReadFile(cfg.CAFile.Value)
		if err != nil {
			return nil, err
		}
	} else {
		log.Info("Client TLS is disabled")
	}
	return rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.RPCConnect,
		User:         cfg.BtcdUsername,
		Pass:         cfg.BtcdPassword,
		Certificates: certs,
		DisableTLS:   cfg.DisableClientTLS,
		HTTPPostMode: true,
	}, nil)
}

// initGateway stores the trusted start header in a new database and returns
// the height the relayer scans transactions from.
func initGateway(gw *gateway.Gateway, chainClient *rpcclient.Client,
	created bool) (uint32, error) {

	if !created {
		return resumeHeight(gw)
	}

	height := cfg.StartHeight
	if height < 0 {
		_, best, err := chainClient.GetBestBlock()
		if err != nil {
			return 0, err
		}
		height = int64(best)
	}
	hash, err := chainClient.GetBlockHash(height)
	if err != nil {
		return 0, err
	}
	header, err := chainClient.GetBlockHeader(hash)
	if err != nil {
		return 0, err
	}
	if err := gw.Create(header, uint32(height)); err != nil {
		return 0, err
	}
	log.Infof("Gateway starts at header %d (%v)", height, hash)
	return uint32(height), nil
}

// resumeHeight returns the height a restarted relayer scans from:
// relay.DefaultMaxReorgDepth blocks below the confirmed header, but no lower
// than the oldest main chain header the gateway holds.  Transactions already
// processed are skipped by the gateway.
func resumeHeight(gw *gateway.Gateway) (uint32, error) {
	tip, err := gw.BestIndex()
	if err != nil {
		return 0, err
	}
	confirmed, err := gw.ConfirmedIndex()
	if err != nil {
		return 0, err
	}
	from := confirmed.UnwrapOr(tip).Height

	var low uint32
	if from > relay.DefaultMaxReorgDepth {
		low = from - relay.DefaultMaxReorgDepth
	}
	for h := low; h < from; h++ {
		_, err := gw.HeaderByHeight(h)
		if err == nil {
			return h, nil
		}
		if !headerchain.IsError(err, headerchain.ErrHeaderNotFound) {
			return 0, err
		}
	}
	return from, nil
}
