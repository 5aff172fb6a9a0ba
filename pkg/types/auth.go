package types

// TokenType represents the type of authentication token.
type TokenType string

const (
	TokenTypeOperator TokenType = "operator"
	TokenTypeLocal    TokenType = "local"
)

// AuthInfo contains identity information for authenticated requests.
// A BusinessId of zero grants access to every business.
type AuthInfo struct {
	TokenType  TokenType
	Subject    string
	BusinessId uint
}

func (a *AuthInfo) IsOperator() bool {
	return a != nil && (a.TokenType == TokenTypeOperator || a.TokenType == TokenTypeLocal)
}

func (a *AuthInfo) HasBusinessAccess(businessId uint) bool {
	if !a.IsOperator() {
		return false
	}
	return a.BusinessId == 0 || a.BusinessId == businessId
}
