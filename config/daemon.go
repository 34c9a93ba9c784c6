package config

// DaemonConfig is the settings-file surface for the marketplace daemon and
// its background workers: database/redis connection parameters plus the
// marketplace tunables named in the node's external-interface contract
// (min confirmations, payout retry policy, order expiration, fee routing).
type DaemonConfig struct {
	Database struct {
		Host            string `toml:"host" env:"EVRMARKET_DB_HOST"`
		Port            string `toml:"port" env:"EVRMARKET_DB_PORT" env-default:"5432"`
		User            string `toml:"user" env:"EVRMARKET_DB_USER"`
		Password        string `toml:"password" env:"EVRMARKET_DB_PASSWORD"`
		DB              string `toml:"db" env:"EVRMARKET_DB_NAME"`
		SslMode         string `toml:"ssl_mode" env:"EVRMARKET_DB_SSL_MODE" env-default:"disable"`
		MaxConns        int    `toml:"max_conns" env:"EVRMARKET_DB_MAX_CONNS" env-default:"20"`
		MinConns        int    `toml:"min_conns" env:"EVRMARKET_DB_MIN_CONNS" env-default:"2"`
		MaxConnLifetime int    `toml:"max_conn_lifetime" env:"EVRMARKET_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"EVRMARKET_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
	} `toml:"database"`

	Redis struct {
		Host     string `toml:"host" env:"EVRMARKET_REDIS_HOST"`
		Port     string `toml:"port" env:"EVRMARKET_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"EVRMARKET_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"EVRMARKET_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	// EvrmoreRoot points at the node's own data directory, whose evrmore.conf
	// supplies rpcuser/rpcpassword/rpcport/zmq endpoints (see NodeConfig).
	EvrmoreRoot string `toml:"evrmore_root" env:"EVRMARKET_EVRMORE_ROOT"`

	MinConfirmations       int     `toml:"min_confirmations" env:"EVRMARKET_MIN_CONFIRMATIONS" env-default:"6"`
	MaxPayoutAttempts      int     `toml:"max_payout_attempts" env:"EVRMARKET_MAX_PAYOUT_ATTEMPTS" env-default:"3"`
	PayoutRetryDelaySecs   int     `toml:"payout_retry_delay" env:"EVRMARKET_PAYOUT_RETRY_DELAY" env-default:"300"`
	PayoutBatchSize        int     `toml:"payout_batch_size" env:"EVRMARKET_PAYOUT_BATCH_SIZE" env-default:"10"`
	OrderExpirationMinutes int     `toml:"order_expiration_minutes" env:"EVRMARKET_ORDER_EXPIRATION_MINUTES" env-default:"15"`
	FeePercent             float64 `toml:"fee_percent" env:"EVRMARKET_FEE_PERCENT" env-default:"0.01"`
	FeeAddress             string  `toml:"fee_address" env:"EVRMARKET_FEE_ADDRESS"`

	// MinRelayFeePerKB is the minimum EVR/kB fee rate used to size payout
	// transactions; absorbed from the fee-address output, never sellers'.
	MinRelayFeePerKB float64 `toml:"min_relay_fee_per_kb" env:"EVRMARKET_MIN_RELAY_FEE_PER_KB" env-default:"0.0101"`
}
