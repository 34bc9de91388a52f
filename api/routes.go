package api

// Route constants for the API endpoints

const (
	// Health endpoint
	PingEndpoint = "/ping" // GET: health check

	// URL parameters
	PoolURLParam      = "poolId"
	LeafIndexURLParam = "leafIndex"
	NullifierURLParam = "nullifierHash"
	AddressURLParam   = "address"

	// Pool endpoints
	PoolsEndpoint    = "/pools"                                // GET: list pools
	PoolEndpoint     = "/pools/{" + PoolURLParam + "}"         // GET: pool parameters and tree state
	PoolRootEndpoint = "/pools/{" + PoolURLParam + "}/root"    // GET: current root, known-root query
	AllowedEndpoint  = "/allowed/{" + AddressURLParam + "}"    // GET: allow-list record
	CanDepositPath   = "/pools/{" + PoolURLParam + "}/deposits/check"

	// Deposit endpoints
	DepositsEndpoint      = "/pools/{" + PoolURLParam + "}/deposits"                                // POST: gated deposit
	DepositRecordEndpoint = "/pools/{" + PoolURLParam + "}/deposits/{" + LeafIndexURLParam + "}"    // GET: deposit record
	CommitmentsEndpoint   = "/pools/{" + PoolURLParam + "}/commitments"                             // GET: commitment range (?start=&end=)

	// Withdrawal endpoints
	WithdrawalsEndpoint      = "/pools/{" + PoolURLParam + "}/withdrawals"                             // POST: withdraw
	NullifierEndpoint        = "/pools/{" + PoolURLParam + "}/nullifiers/{" + NullifierURLParam + "}"  // GET: spent state
	NullifierBatchEndpoint   = "/pools/{" + PoolURLParam + "}/nullifiers"                              // POST: batch spent query
	WithdrawalRecordEndpoint = "/pools/{" + PoolURLParam + "}/withdrawals/{" + NullifierURLParam + "}" // GET: withdrawal record
)

// LogExcludedPrefixes defines URL prefixes to exclude from request logging.
var LogExcludedPrefixes = []string{
	PingEndpoint,
}
