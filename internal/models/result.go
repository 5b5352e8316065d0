package models

// Reason explains why an address could not be resolved.
type Reason string

const (
	ReasonNoMatch            Reason = "no_match"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonHTTPError          Reason = "http_error"
	ReasonInvalidCoordinates Reason = "invalid_coordinates"
	ReasonRequestFailed      Reason = "request_failed"
)

// GeocodeResult is the outcome of geocoding a single address. It is either
// resolved (Coordinates set) or unresolved (Reason set, Err optionally set).
type GeocodeResult struct {
	Coordinates *Coordinates
	Reason      Reason
	Err         error
}

// Resolved builds a successful result.
func Resolved(coords Coordinates) GeocodeResult {
	return GeocodeResult{Coordinates: &coords}
}

// Unresolved builds a failed result carrying the reason and the underlying error.
func Unresolved(reason Reason, err error) GeocodeResult {
	return GeocodeResult{Reason: reason, Err: err}
}

// IsResolved reports whether the result carries coordinates.
func (r GeocodeResult) IsResolved() bool {
	return r.Coordinates != nil
}
