package indicators

import "errors"

// ErrInsufficientHistory is returned when the series is shorter than the
// longest lookback window required by the indicator spec (§4.3).
var ErrInsufficientHistory = errors.New("insufficient history for indicator computation")
