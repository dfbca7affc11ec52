package auth

import "encoding/json"

// GroupDecoder extracts zero or more group names from the raw userinfo
// claims. The claim shape is provider-specific, so the engine only depends
// on this capability and providers supply their own decoder when the
// default shape does not fit.
type GroupDecoder func(raw json.RawMessage) ([]string, error)

// DecodeGroupsClaim reads the common flat shape {"groups": ["a", "b"]}.
func DecodeGroupsClaim(raw json.RawMessage) ([]string, error) {
	var claim struct {
		Groups []string `json:"groups"`
	}
	if err := json.Unmarshal(raw, &claim); err != nil {
		return nil, err
	}
	return claim.Groups, nil
}
