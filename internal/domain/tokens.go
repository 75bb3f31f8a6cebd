package domain

// Storage keys for the session token pair. They match the keys the browser
// client historically used so exported state stays recognisable.
const (
	AccessTokenKey  = "sb_access_token"
	RefreshTokenKey = "sb_refresh_token"
)

// TokenPair is the backend session. Both tokens are present or both are absent.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Valid reports whether the pair holds a complete session.
func (p TokenPair) Valid() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}
