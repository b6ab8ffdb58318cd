// Package config handles application configuration for the block-template
// assembler daemon.
//
// Settings are split into what the core consumes directly (MiningConfig,
// matching the shape fixed by the work package) and everything around it
// (backend RPC, stratum listener, logging) that stays opaque to the core.
package config

import "github.com/djkazic/p2pool-go/internal/chainparams"

// Config holds full daemon configuration, loaded from YAML and overlaid
// with command-line flags.
type Config struct {
	Chain   ChainConfig   `yaml:"chain"`
	Mining  MiningConfig  `yaml:"mining"`
	RPC     RPCConfig     `yaml:"rpc"`
	Stratum StratumConfig `yaml:"stratum"`
	Log     LogConfig     `yaml:"log"`
}

// ChainConfig selects which coin profile the daemon assembles templates for.
type ChainConfig struct {
	Ticker string `yaml:"ticker"`
}

// MiningConfig is the configuration surface the core reads: the transaction
// count cap and extranonce split the stratum layer and the selector agree on.
type MiningConfig struct {
	TxNumLimit            uint32 `yaml:"tx_num_limit"`
	FixedExtraNonceSize   uint8  `yaml:"fixed_extranonce_size"`
	MutableExtraNonceSize uint8  `yaml:"mutable_extranonce_size"`
	PayoutAddress         string `yaml:"payout_address"`
	CoinbaseMessage       string `yaml:"coinbase_message"`
}

// RPCConfig holds the backend node JSON-RPC connection settings.
type RPCConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// StratumConfig holds the listener settings for the external stratum front
// end; the core never opens sockets itself.
type StratumConfig struct {
	ListenAddr string `yaml:"listen"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration used when no file or flags
// override it.
func Default() Config {
	return Config{
		Chain: ChainConfig{Ticker: string(chainparams.BTC)},
		Mining: MiningConfig{
			TxNumLimit:            4000,
			FixedExtraNonceSize:   4,
			MutableExtraNonceSize: 4,
			CoinbaseMessage:       "/p2pool/",
		},
		RPC: RPCConfig{
			URL: "http://127.0.0.1:8332",
		},
		Stratum: StratumConfig{
			ListenAddr: "0.0.0.0:3333",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is usable, returning the first
// problem found.
func (c Config) Validate() error {
	if _, err := chainparams.For(chainparams.Ticker(c.Chain.Ticker)); err != nil {
		return err
	}
	if c.Mining.TxNumLimit == 0 {
		return errConfig("mining.tx_num_limit must be greater than zero")
	}
	if c.RPC.URL == "" {
		return errConfig("rpc.url must be set")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }
