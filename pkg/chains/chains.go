package chains

// networkNames holds the networks the engine knows by name
var networkNames = map[uint64]string{
	1:     "ETHEREUM",
	137:   "POLYGON",
	42161: "ARBITRUM",
	43114: "AVALANCHE",
	56:    "BSC",
	7000:  "ZETACHAIN",
	8453:  "BASE",
}

// destinationGas is the receiver execution budget used when the selected
// solver committed none
var destinationGas = map[uint64]uint64{
	1:     400000,  // Ethereum
	137:   400000,  // Polygon
	42161: 1000000, // Arbitrum
	43114: 400000,  // Avalanche
	56:    400000,  // Binance Smart Chain
	7000:  400000,  // ZetaChain
	8453:  400000,  // Base
}

// IsKnown reports whether networkID has a name and a gas budget
func IsKnown(networkID uint64) bool {
	_, ok := networkNames[networkID]
	return ok
}

// GetNetworkName returns the name of a network, or "" if unknown
func GetNetworkName(networkID uint64) string {
	return networkNames[networkID]
}

// DefaultDestinationGas returns the known budget for networkID, or fallback
func DefaultDestinationGas(networkID uint64, fallback uint64) uint64 {
	if gas, ok := destinationGas[networkID]; ok {
		return gas
	}
	return fallback
}
