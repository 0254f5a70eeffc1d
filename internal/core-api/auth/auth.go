package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/radieske/betting-core-api/internal/shared/config"
)

const (
	ScopeRead             = "read"
	ScopeOddsWrite        = "odds:write"
	ScopePredictionsWrite = "predictions:write"
	ScopeBetsWrite        = "bets:write"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidAPIKey      = errors.New("invalid api key")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidKID         = errors.New("invalid token (kid)")
	ErrKIDNotAccepted     = errors.New("kid not accepted")
	ErrTokenExpired       = errors.New("token expired")
	ErrInsufficientScope  = errors.New("insufficient_scope")
)

// Principal identifica quem chamou: "apikey:<fingerprint>" ou "jwt:<sub>".
// A API key em si nunca entra no ID: ele vai para traces, eventos e auditoria.
type Principal struct {
	ID     string
	Scopes map[string]struct{}
}

// Has informa se o principal possui todos os escopos pedidos
func (p Principal) Has(scopes ...string) bool {
	for _, s := range scopes {
		if _, ok := p.Scopes[s]; !ok {
			return false
		}
	}
	return true
}

func (p Principal) ScopeList() []string {
	out := make([]string, 0, len(p.Scopes))
	for s := range p.Scopes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ScopeList aceita o claim "scopes" como string ("a b,c") ou lista
type ScopeList []string

func (s *ScopeList) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = splitScopes(str)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("scopes claim: %w", err)
	}
	*s = nil
	for _, v := range list {
		if v = strings.TrimSpace(v); v != "" {
			*s = append(*s, v)
		}
	}
	return nil
}

type Claims struct {
	Scopes ScopeList `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolve o principal a partir de X-API-Key ou Authorization: Bearer
type Authenticator struct {
	mode       string
	apiKeys    map[string]map[string]struct{}
	alg        string
	issuer     string
	audience   string
	secrets    []string // rotação: atual, anterior
	kidSecrets map[string]string
	kidAllowed map[string]struct{}
}

func New(cfg config.AuthConfig) (*Authenticator, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = "both"
	}
	if mode != "api_key" && mode != "jwt" && mode != "both" {
		return nil, fmt.Errorf("unknown AUTH_MODE %q", cfg.Mode)
	}
	alg := cfg.JWTAlg
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	if !strings.HasPrefix(alg, "HS") {
		return nil, fmt.Errorf("unsupported JWT_ALG %q: only HMAC algorithms are configured by secret", alg)
	}

	a := &Authenticator{
		mode:       mode,
		apiKeys:    ParseAPIKeys(cfg.APIKeys),
		alg:        alg,
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		kidSecrets: parseKIDSecrets(cfg.JWTSecrets),
		kidAllowed: toSet(splitScopes(cfg.JWTAcceptedKID)),
	}
	for _, s := range []string{cfg.JWTSecret, cfg.JWTPrevSecret} {
		if s != "" {
			a.secrets = append(a.secrets, s)
		}
	}
	return a, nil
}

// KeyFingerprint: 12 primeiros hex do sha256 da key; estável entre réplicas
func KeyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}

func (a *Authenticator) wantAPIKey() bool { return a.mode == "api_key" || a.mode == "both" }
func (a *Authenticator) wantJWT() bool    { return a.mode == "jwt" || a.mode == "both" }

// Authenticate aplica a ordem: API key (se presente), depois bearer token
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	if key := r.Header.Get("X-API-Key"); a.wantAPIKey() && key != "" {
		scopes, ok := a.apiKeys[key]
		if !ok {
			return Principal{}, ErrInvalidAPIKey
		}
		return Principal{ID: "apikey:" + KeyFingerprint(key), Scopes: scopes}, nil
	}

	authz := r.Header.Get("Authorization")
	if a.wantJWT() && len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return a.verifyToken(strings.TrimSpace(authz[7:]))
	}

	return Principal{}, ErrMissingCredentials
}

func (a *Authenticator) verifyToken(raw string) (Principal, error) {
	var (
		claims *Claims
		err    error
	)
	if len(a.kidSecrets) > 0 {
		claims, err = a.parse(raw, a.kidKey)
	} else {
		claims, err = a.parseWithRotation(raw)
	}
	if err != nil {
		return Principal{}, err
	}

	sub := claims.Subject
	if sub == "" {
		sub = "unknown"
	}
	return Principal{ID: "jwt:" + sub, Scopes: toSet(claims.Scopes)}, nil
}

func (a *Authenticator) parseWithRotation(raw string) (*Claims, error) {
	if len(a.secrets) == 0 {
		return nil, ErrInvalidToken
	}
	var last error
	for _, sec := range a.secrets {
		key := []byte(sec)
		claims, err := a.parse(raw, func(*jwt.Token) (interface{}, error) { return key, nil })
		if err == nil || errors.Is(err, ErrTokenExpired) {
			return claims, err
		}
		last = err
	}
	return nil, last
}

func (a *Authenticator) kidKey(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	sec, ok := a.kidSecrets[kid]
	if kid == "" || !ok {
		return nil, ErrInvalidKID
	}
	if len(a.kidAllowed) > 0 {
		if _, ok := a.kidAllowed[kid]; !ok {
			return nil, ErrKIDNotAccepted
		}
	}
	return []byte(sec), nil
}

func (a *Authenticator) parse(raw string, keyFn jwt.Keyfunc) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{a.alg})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, keyFn, opts...)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, ErrInvalidKID):
		return nil, ErrInvalidKID
	case errors.Is(err, ErrKIDNotAccepted):
		return nil, ErrKIDNotAccepted
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// PrincipalID devolve o ID do principal do request ou "" (a gate usa "anonymous")
func PrincipalID(r *http.Request) string {
	p, _ := FromContext(r.Context())
	return p.ID
}

// ParseAPIKeys lê "key1=scope,scope;key2=scope" (escopos separados por vírgula ou espaço)
func ParseAPIKeys(s string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		key, scopes, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		out[strings.TrimSpace(key)] = toSet(splitScopes(scopes))
	}
	return out
}

// parseKIDSecrets lê "v1:sec1,v2:sec2"
func parseKIDSecrets(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		kid, sec, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(kid)] = strings.TrimSpace(sec)
	}
	return out
}

func splitScopes(s string) []string {
	return strings.Fields(strings.ReplaceAll(s, ",", " "))
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}
