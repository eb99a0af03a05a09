package testutil

import (
	"errors"
	"net/http"
	"strings"

	"legisla/internal/platform/middleware"
	id "legisla/pkg/domain"
	"legisla/pkg/requestcontext"
)

// StaticValidator accepts unsigned test tokens of the form
// "<role>:<member-id>".
type StaticValidator struct{}

func (StaticValidator) ValidateToken(token string) (*middleware.JWTClaims, error) {
	role, member, ok := strings.Cut(token, ":")
	if !ok {
		return nil, errors.New("malformed test token")
	}
	return &middleware.JWTClaims{MemberID: member, Role: role}, nil
}

// WithBearer sets a StaticValidator token for the given role and member.
func WithBearer(req *http.Request, role requestcontext.Role, member id.MemberID) *http.Request {
	req.Header.Set("Authorization", "Bearer "+string(role)+":"+member.String())
	return req
}
