package credential

import (
	"encoding/base64"
	"strings"
)

// Inbound carries the raw credential-bearing values of a request.
// The transport layer fills it; resolution never sees the request itself.
type Inbound struct {
	Authorization string // Authorization header, verbatim
	APIKey        string // X-API-Key header
	Session       string // session cookie value
}

// Anonymous reports whether no credential of any scheme was presented.
func (in Inbound) Anonymous() bool {
	return in.Authorization == "" && in.APIKey == "" && in.Session == ""
}

// Reasons for AuthError.
const (
	ReasonEmptyBearer    = "empty_bearer_token"
	ReasonMalformedBasic = "malformed_basic_credentials"
	ReasonEmptyBasic     = "empty_basic_credentials"
	ReasonUnknownScheme  = "unsupported_authorization_scheme"
	ReasonNoMatch        = "credential_not_recognized"
)

// AuthError is returned when an explicit credential is malformed or does not
// match any stored account. It is never retried and never falls back to the
// anonymous path.
type AuthError struct {
	Method Method
	Reason string
}

func (e *AuthError) Error() string {
	if e.Method == "" {
		return "authentication failed: " + e.Reason
	}
	return "authentication failed (" + string(e.Method) + "): " + e.Reason
}

// scheme splits an Authorization header into its scheme and parameter.
func scheme(authorization string) (string, string) {
	v := strings.TrimSpace(authorization)
	name, param, _ := strings.Cut(v, " ")
	return strings.ToLower(name), strings.TrimSpace(param)
}

// ParseBearer extracts a Bearer token.
// Returns present=false when the header does not use the Bearer scheme.
// This is a PURE function.
func ParseBearer(authorization string) (token string, present bool, err error) {
	if authorization == "" {
		return "", false, nil
	}
	name, param := scheme(authorization)
	if name != "bearer" {
		return "", false, nil
	}
	if param == "" {
		return "", true, &AuthError{Method: MethodBearer, Reason: ReasonEmptyBearer}
	}
	return param, true, nil
}

// ParseBasic extracts the key from HTTP Basic credentials. The username is
// discarded; a decoded value without a colon is taken whole as the key.
// This is a PURE function.
func ParseBasic(authorization string) (key string, present bool, err error) {
	if authorization == "" {
		return "", false, nil
	}
	name, param := scheme(authorization)
	if name != "basic" {
		return "", false, nil
	}
	raw, decErr := base64.StdEncoding.DecodeString(param)
	if decErr != nil || param == "" {
		return "", true, &AuthError{Method: MethodBasic, Reason: ReasonMalformedBasic}
	}
	decoded := string(raw)
	if _, pass, ok := strings.Cut(decoded, ":"); ok {
		decoded = pass
	}
	if decoded == "" {
		return "", true, &AuthError{Method: MethodBasic, Reason: ReasonEmptyBasic}
	}
	return decoded, true, nil
}

// CheckScheme rejects Authorization headers whose scheme is neither Bearer
// nor Basic.
// This is a PURE function.
func CheckScheme(authorization string) error {
	if authorization == "" {
		return nil
	}
	switch name, _ := scheme(authorization); name {
	case "bearer", "basic":
		return nil
	default:
		return &AuthError{Reason: ReasonUnknownScheme}
	}
}
