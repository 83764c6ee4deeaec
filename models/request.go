package models

import "encoding/json"

// SignRequest is the payload for POST /api/v1/sign.
type SignRequest struct {
	// URL is the endpoint path the signature is computed for, e.g.
	// "/api/sns/web/v1/feed". Required. The signing script concatenates
	// it with Data, so it is passed through verbatim.
	URL string `json:"url" binding:"required"`

	// Data is the request body to sign. Accepts either a JSON string
	// (used as-is) or a JSON object (serialized before signing).
	// Empty for GET-style calls.
	Data json.RawMessage `json:"data,omitempty"`
}

// DataString normalizes Data into the string the signing script expects:
// a JSON string literal is unquoted, any other JSON value is kept in its
// serialized form, and absent data becomes "".
func (r *SignRequest) DataString() string {
	if len(r.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Data, &s); err == nil {
		return s
	}
	return string(r.Data)
}

// TokenRequest is the payload for POST /api/v1/xsec-token.
type TokenRequest struct {
	// URL is the full page URL to pull an xsec_token from. Required.
	URL string `json:"url" binding:"required,url"`

	// MaxAgeMs accepts a cached token no older than this many milliseconds.
	// 0 (default) bypasses the cache.
	MaxAgeMs int `json:"max_age_ms,omitempty" binding:"omitempty,min=0"`
}
