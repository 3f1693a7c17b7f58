package gate

import (
	"net/http"
	"slices"

	"assist/cmd/identity"
	"assist/cmd/internal/apperror"
	"assist/cmd/internal/audit"
)

var (
	errNoIdentity   = apperror.Unauthenticated("token_required", "access token required")
	errAccessDenied = apperror.Forbidden("access_denied", "Acesso negado")
)

// RequireRoles admits requests whose attached identity holds one of roles.
// It must run after Authenticator.Middleware.
func RequireRoles(rec *audit.Recorder, roles ...identity.Role) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(roles))
	for _, r := range roles {
		allowed = append(allowed, string(r))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				apperror.Write(w, errNoIdentity)
				return
			}
			if !slices.Contains(allowed, id.Role) {
				rec.Record(r.Context(), audit.Event{
					Action:    "authz.denied",
					SubjectID: id.SubjectID,
					Meta: map[string]any{
						"required_roles": allowed,
						"actual_role":    id.Role,
						"path":           r.URL.Path,
					},
				})
				apperror.Write(w, errAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireProfessionalOrAdmin admits professionals and admins.
func RequireProfessionalOrAdmin(rec *audit.Recorder) func(http.Handler) http.Handler {
	return RequireRoles(rec, identity.RoleProfessional, identity.RoleAdmin)
}

// RequireAdmin admits admins only.
func RequireAdmin(rec *audit.Recorder) func(http.Handler) http.Handler {
	return RequireRoles(rec, identity.RoleAdmin)
}
