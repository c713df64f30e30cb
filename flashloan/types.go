package flashloan

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProviderConfig locates a lending pool that offers flash loans.
type ProviderConfig struct {
	Pool common.Address
	// FallbackPremiumBps is used when the pool cannot be read.
	FallbackPremiumBps uint32
	// CacheTTL bounds how long a premium read from chain is reused.
	CacheTTL time.Duration
}
