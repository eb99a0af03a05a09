package testutil

import (
	"net/http"
	"time"

	id "legisla/pkg/domain"
	"legisla/pkg/requestcontext"
)

// AsOperator marks the request as coming from the authenticated operator
// console. This simulates what the auth middleware does.
func AsOperator(req *http.Request, actor id.MemberID) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor, requestcontext.RoleOperator))
}

// AsLegislator marks the request as coming from a legislator terminal.
func AsLegislator(req *http.Request, member id.MemberID) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), member, requestcontext.RoleLegislator))
}

// AtTime pins the request-scoped clock.
func AtTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
