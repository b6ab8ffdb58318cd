package config

import (
	"flag"
	"os"
	"strings"
)

// Flags holds parsed command-line flags.
type Flags struct {
	Config string

	Ticker            string
	TxNumLimit        int
	FixedExtraNonce   int
	MutableExtraNonce int
	PayoutAddress     string
	CoinbaseMessage   string

	RPCURL      string
	RPCUser     string
	RPCPassword string

	StratumListen string

	LogLevel string
	LogJSON  bool
}

// ParseFlags parses command-line flags, falling back to zero values for
// anything not passed; zero values never override a config file or default.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("poold", flag.ContinueOnError)

	fs.StringVar(&f.Config, "config", "", "Config file path")

	fs.StringVar(&f.Ticker, "chain", "", "Chain ticker (BTC, LTC, BCHN, BCHA, FCH)")
	fs.IntVar(&f.TxNumLimit, "txnumlimit", 0, "Maximum transactions per template")
	fs.IntVar(&f.FixedExtraNonce, "fixed-extranonce-size", 0, "Fixed (extranonce1) size in bytes")
	fs.IntVar(&f.MutableExtraNonce, "mutable-extranonce-size", 0, "Mutable (extranonce2) size in bytes")
	fs.StringVar(&f.PayoutAddress, "payout-address", "", "Pool payout scriptPubKey, hex-encoded")
	fs.StringVar(&f.CoinbaseMessage, "coinbase-message", "", "Coinbase scriptSig message")

	fs.StringVar(&f.RPCURL, "rpc-url", "", "Backend node RPC URL")
	fs.StringVar(&f.RPCUser, "rpc-user", "", "Backend node RPC username")
	fs.StringVar(&f.RPCPassword, "rpc-password", "", "Backend node RPC password")

	fs.StringVar(&f.StratumListen, "stratum-listen", "", "Stratum listen address")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Emit JSON logs")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseOSArgs parses os.Args[1:], the common entrypoint for cmd/poold.
func ParseOSArgs() (*Flags, error) {
	return ParseFlags(os.Args[1:])
}

// Apply overlays any explicitly-set flags onto cfg.
func (f *Flags) Apply(cfg *Config) {
	if f.Ticker != "" {
		cfg.Chain.Ticker = strings.ToUpper(f.Ticker)
	}
	if f.TxNumLimit > 0 {
		cfg.Mining.TxNumLimit = uint32(f.TxNumLimit)
	}
	if f.FixedExtraNonce > 0 {
		cfg.Mining.FixedExtraNonceSize = uint8(f.FixedExtraNonce)
	}
	if f.MutableExtraNonce > 0 {
		cfg.Mining.MutableExtraNonceSize = uint8(f.MutableExtraNonce)
	}
	if f.PayoutAddress != "" {
		cfg.Mining.PayoutAddress = f.PayoutAddress
	}
	if f.CoinbaseMessage != "" {
		cfg.Mining.CoinbaseMessage = f.CoinbaseMessage
	}
	if f.RPCURL != "" {
		cfg.RPC.URL = f.RPCURL
	}
	if f.RPCUser != "" {
		cfg.RPC.User = f.RPCUser
	}
	if f.RPCPassword != "" {
		cfg.RPC.Password = f.RPCPassword
	}
	if f.StratumListen != "" {
		cfg.Stratum.ListenAddr = f.StratumListen
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogJSON {
		cfg.Log.JSON = true
	}
}

// Load builds the final Config: defaults, then YAML file overrides, then
// command-line flags.
func Load(f *Flags) (Config, error) {
	cfg := Default()

	if f.Config != "" {
		merged, err := LoadFile(f.Config, cfg)
		if err != nil {
			return Config{}, err
		}
		cfg = merged
	}

	f.Apply(&cfg)
	cfg.Chain.Ticker = strings.ToUpper(cfg.Chain.Ticker)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
