package models

// TokenPair bundles the access and refresh tokens minted together.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
