package apierrors

import (
	"errors"

	"github.com/moogar0880/problems"
)

// ProblemBaseURL is prefixed to a Kind to form the problem "type" URI.
// Overridden by internal/config at startup.
var ProblemBaseURL = "https://gateway.example.com/problems/"

// ToProblem renders any error as an RFC 7807 problem detail. Non-gateway
// errors are rendered as an opaque internal error so upstream failure
// details never leak to callers of the admin surface.
func ToProblem(err error) *problems.DefaultProblem {
	var ge *GatewayError
	if errors.As(err, &ge) {
		p := problems.NewDetailedProblem(ge.HTTPStatus(), ge.Message)
		p.Type = ProblemBaseURL + string(ge.Kind)
		p.Title = string(ge.Kind)
		return p
	}
	p := problems.NewDetailedProblem(500, "internal server error")
	p.Type = ProblemBaseURL + string(KindInternal)
	p.Title = string(KindInternal)
	return p
}
