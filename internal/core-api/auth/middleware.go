package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorWriter escreve a resposta de falha de autenticação/autorização
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, message string)

// Require autentica o request e exige os escopos informados.
// 401 para credencial ausente/inválida, 403 para escopo insuficiente.
func (a *Authenticator) Require(onErr ErrorWriter, scopes ...string) func(http.Handler) http.Handler {
	if onErr == nil {
		onErr = writeError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r)
			if err != nil {
				onErr(w, r, http.StatusUnauthorized, message(err))
				return
			}
			if !p.Has(scopes...) {
				onErr(w, r, http.StatusForbidden, ErrInsufficientScope.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// message não expõe detalhes internos do parser JWT
func message(err error) string {
	for _, known := range []error{ErrMissingCredentials, ErrInvalidAPIKey, ErrInvalidKID, ErrKIDNotAccepted, ErrTokenExpired} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ErrInvalidToken.Error()
}

func writeError(w http.ResponseWriter, _ *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
