package marketdata

import "errors"

var (
	// ErrProviderUnavailable marks a provider that could not be reached or
	// answered 5xx. When every provider fails and no cached series exists,
	// the Gateway returns the last provider's error, and this error itself
	// only when it has no providers.
	ErrProviderUnavailable = errors.New("market data provider unavailable")
	// ErrRateLimited is returned when a provider's token bucket is empty.
	ErrRateLimited = errors.New("market data provider rate limited")
	// ErrBadSymbol is returned for a pair the provider does not recognize.
	ErrBadSymbol = errors.New("unrecognized symbol")
	// ErrStale marks a series whose last bar is older than 2x the timeframe.
	ErrStale = errors.New("bar series is stale")
)
