package config

// Token identifies a token ledger by symbol and address.
type Token struct {
	Symbol   string `toml:"Symbol"`
	Address  string `toml:"Address"`
	Decimals uint8  `toml:"Decimals"`
}

// Collateral registers an accepted collateral token together with the feed
// that prices it.
type Collateral struct {
	Token
	Feed         string `toml:"Feed"`
	FeedDecimals uint8  `toml:"FeedDecimals"`
	// InitialPrice is a decimal USD price, e.g. "2000" or "0.9995".
	InitialPrice string `toml:"InitialPrice"`
}

// Allocation credits a collateral token balance to an account at genesis.
type Allocation struct {
	Account string `toml:"Account"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}
