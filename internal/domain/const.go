package domain

const (
	// Blockchain constants
	ETHEREUM_ZERO_ADDRESS = "0x0000000000000000000000000000000000000000"

	// UNKNOWN_TOKEN_ID is recorded on a sale whose listing was never projected.
	// Consumers must read it as "unknown", not as token zero.
	UNKNOWN_TOKEN_ID = "0"

	// WEI_DECIMALS is the number of decimals between wei and ether
	WEI_DECIMALS = 18
)
