// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcgateway/headerchain"
	"github.com/btcsuite/btcgateway/internal/cfgutil"
	"github.com/btcsuite/btcgateway/netparams"
	"github.com/btcsuite/btcgateway/relay"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename     = "btcgatewayd.conf"
	defaultLogLevel           = "info"
	defaultLogDirname         = "logs"
	defaultLogFilename        = "btcgatewayd.log"
	defaultConfirmations      = 6
	defaultForkChoice         = "work"
	defaultMaxWithdrawalCount = 50
	defaultRelayerAccount     = "relayer"

	gatewayDbName = "gateway.db"
)

var (
	btcdDefaultCAFile  = filepath.Join(btcutil.AppDataDir("btcd", false), "rpc.cert")
	defaultAppDataDir  = btcutil.AppDataDir("btcgatewayd", false)
	defaultConfigFile  = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir      = filepath.Join(defaultAppDataDir, defaultLogDirname)
	defaultMinDeposit  = btcutil.Amount(100000)
	defaultWithdrawFee = btcutil.Amount(10000)
)

type config struct {
	// General application behavior
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	AppDataDir  *cfgutil.ExplicitString `short:"A" long:"appdata" description:"Application data directory for gateway state and logs"`
	TestNet3    bool                    `long:"testnet" description:"Use the test Bitcoin network (version 3) (default mainnet)"`
	TestNet4    bool                    `long:"testnet4" description:"Use the test Bitcoin network (version 4) (default mainnet)"`
	SimNet      bool                    `long:"simnet" description:"Use the simulation test network (default mainnet)"`
	SigNet      bool                    `long:"signet" description:"Use the signet test network (default mainnet)"`
	RegTest     bool                    `long:"regtest" description:"Use the regression test network (default mainnet)"`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir      string                  `long:"logdir" description:"Directory to log output."`

	// RPC client options
	RPCConnect       string                  `short:"c" long:"rpcconnect" description:"Hostname/IP and port of btcd RPC server to connect to (default localhost:8334, testnet: localhost:18334, simnet: localhost:18556)"`
	CAFile           *cfgutil.ExplicitString `long:"cafile" description:"File containing root certificates to authenticate a TLS connections with btcd"`
	DisableClientTLS bool                    `long:"noclienttls" description:"Disable TLS for the RPC client -- NOTE: This is only allowed if the RPC client is connecting to localhost"`
	BtcdUsername     string                  `long:"btcdusername" description:"Username for btcd authentication"`
	BtcdPassword     string                  `long:"btcdpassword" default-mask:"-" description:"Password for btcd authentication"`

	// Trustee options
	Trustees     []*cfgutil.TrusteeFlag `long:"trustee" description:"Current trustee as account:hotpubkey:coldpubkey (repeatable)"`
	PrevTrustees []*cfgutil.TrusteeFlag `long:"prevtrustee" description:"Previous trustee as account:hotpubkey:coldpubkey (repeatable)"`
	P2SH         bool                   `long:"p2sh" description:"Trustee addresses are P2SH instead of P2WSH"`

	// Gateway options
	Authority          string              `long:"authority" description:"Account allowed to call the override entry points"`
	Confirmations      uint32              `long:"confirmations" description:"Depth below the best header at which headers are confirmed"`
	ForkChoice         string              `long:"forkchoice" description:"Rule picking the best header {work, height}"`
	WithdrawalFee      *cfgutil.AmountFlag `long:"withdrawalfee" description:"Fee deducted from every withdrawal (used when the gateway is created)"`
	MinDeposit         *cfgutil.AmountFlag `long:"mindeposit" description:"Smallest deposit credited (used when the gateway is created)"`
	MaxWithdrawalCount uint32              `long:"maxwithdrawalcount" description:"Most withdrawals in one proposal (used when the gateway is created)"`

	// Relayer options
	RelayerAccount string        `long:"relayer" description:"Account the relayer pushes headers and transactions as"`
	StartHeight    int64         `long:"startheight" description:"Height of the trusted start header when the gateway is created (default: the node's best height)"`
	PollInterval   time.Duration `long:"pollinterval" description:"Interval between polls of btcd"`
	FetchWorkers   int           `long:"fetchworkers" description:"Concurrent previous transaction fetches"`
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultAppDataDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}
		setLogLevels(debugLevel)
		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		subsysID, logLevel, ok := strings.Cut(logLevelPair, "=")
		if !ok {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// Command line options always take precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		DebugLevel:         defaultLogLevel,
		ConfigFile:         cfgutil.NewExplicitString(defaultConfigFile),
		AppDataDir:         cfgutil.NewExplicitString(defaultAppDataDir),
		LogDir:             defaultLogDir,
		CAFile:             cfgutil.NewExplicitString(""),
		Confirmations:      defaultConfirmations,
		ForkChoice:         defaultForkChoice,
		WithdrawalFee:      cfgutil.NewAmountFlag(defaultWithdrawFee),
		MinDeposit:         cfgutil.NewAmountFlag(defaultMinDeposit),
		MaxWithdrawalCount: defaultMaxWithdrawalCount,
		RelayerAccount:     defaultRelayerAccount,
		StartHeight:        -1,
		PollInterval:       relay.DefaultPollInterval,
		FetchWorkers:       relay.DefaultFetchWorkers,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := preCfg.ConfigFile.Value
	if preCfg.ConfigFile.ExplicitlySet() {
		configFilePath = cleanAndExpandPath(configFilePath)
	} else {
		appDataDir := preCfg.AppDataDir.Value
		if appDataDir != defaultAppDataDir {
			configFilePath = filepath.Join(appDataDir, defaultConfigFilename)
		}
	}
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// If an alternate data directory was specified, and paths with defaults
	// relative to the data dir are unchanged, modify each path to be
	// relative to the new data dir.
	if cfg.AppDataDir.ExplicitlySet() {
		cfg.AppDataDir.Value = cleanAndExpandPath(cfg.AppDataDir.Value)
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.AppDataDir.Value, defaultLogDirname)
		}
	}

	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	activeNet, err = netparams.Select(cfg.TestNet3, cfg.TestNet4,
		cfg.SimNet, cfg.SigNet, cfg.RegTest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", funcName, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNet.Params.Name)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	if len(cfg.Trustees) == 0 {
		err := fmt.Errorf("%s: at least one --trustee is required",
			funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.Authority == "" {
		err := fmt.Errorf("%s: --authority is required", funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if _, err := headerchain.ParseForkChoice(cfg.ForkChoice); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.MaxWithdrawalCount == 0 {
		err := fmt.Errorf("%s: --maxwithdrawalcount must be positive",
			funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.RPCConnect == "" {
		cfg.RPCConnect = "localhost"
	}
	cfg.RPCConnect, err = cfgutil.NormalizeAddress(cfg.RPCConnect,
		activeNet.RPCClientPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid rpcconnect network address: %v\n", err)
		return nil, nil, err
	}

	if cfg.DisableClientTLS {
		if cfg.CAFile.ExplicitlySet() {
			log.Warn("--cafile is ignored when client TLS is disabled")
		}
	} else if !cfg.CAFile.ExplicitlySet() {
		// Use btcd's certificate when none is given.
		cfg.CAFile.Value = btcdDefaultCAFile
	} else {
		cfg.CAFile.Value = cleanAndExpandPath(cfg.CAFile.Value)
	}

	return &cfg, remainingArgs, nil
}
