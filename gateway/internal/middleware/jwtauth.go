package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jizhuozhi/hermes/gateway/internal/gwerrors"
	"github.com/jizhuozhi/hermes/gateway/internal/reqcontext"
)

// JWTAuthConfig configures bearer-token validation. Only HS256 is
// supported: the gateway is a shared-secret boundary, not an OIDC
// relying party (that belongs to the admin collaborator's auth
// surface, per §1's scope split).
type JWTAuthConfig struct {
	Secret        string
	RequiredScope string
}

// jwtClaims is the minimal claim set the gateway understands. The full
// decoded claim map, extra claims included, is returned beside it by
// verifyHS256 and becomes AuthPrincipal.Claims.
type jwtClaims struct {
	Sub    string   `json:"sub"`
	Scopes []string `json:"scope"`
	Exp    int64    `json:"exp"`
}

// JWTAuth validates a bearer token with the configured secret,
// populates AuthPrincipal, and enforces RequiredScope (§4.5 "JWT
// auth"): 401 on invalid, 403 on missing required scope.
type JWTAuth struct {
	cfg JWTAuthConfig
}

func NewJWTAuth(cfg JWTAuthConfig) *JWTAuth {
	return &JWTAuth{cfg: cfg}
}

func (m *JWTAuth) Call(ctx *reqcontext.Context, w http.ResponseWriter, next *Next) error {
	authHeader := ctx.Request.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return gwerrors.New(gwerrors.Authentication, "missing bearer token")
	}
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

	claims, extra, err := verifyHS256(tokenStr, m.cfg.Secret)
	if err != nil {
		return gwerrors.Wrap(gwerrors.Authentication, err, "invalid token")
	}

	principal := &reqcontext.AuthPrincipal{
		Subject:  claims.Sub,
		Provider: "jwt",
		Scopes:   claims.Scopes,
		Claims:   extra,
	}
	ctx.Principal = principal

	if m.cfg.RequiredScope != "" && !principal.HasScope(m.cfg.RequiredScope) {
		return gwerrors.New(gwerrors.Authorization, fmt.Sprintf("scope %q required", m.cfg.RequiredScope))
	}
	return next.Run(ctx, w)
}

func verifyHS256(tokenStr, secret string) (*jwtClaims, map[string]any, error) {
	parts := strings.SplitN(tokenStr, ".", 3)
	if len(parts) != 3 {
		return nil, nil, fmt.Errorf("malformed JWT")
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("decode header: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, fmt.Errorf("parse header: %w", err)
	}
	if header.Alg != "HS256" {
		return nil, nil, fmt.Errorf("unsupported alg: %s", header.Alg)
	}

	signingInput := parts[0] + "." + parts[1]
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, fmt.Errorf("decode signature: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	expected := mac.Sum(nil)
	if !hmac.Equal(sigBytes, expected) {
		return nil, nil, fmt.Errorf("signature verification failed")
	}

	claimsBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("decode claims: %w", err)
	}
	var claims jwtClaims
	if err := json.Unmarshal(claimsBytes, &claims); err != nil {
		return nil, nil, fmt.Errorf("parse claims: %w", err)
	}
	var extra map[string]any
	_ = json.Unmarshal(claimsBytes, &extra)

	if claims.Exp > 0 && time.Now().Unix() > claims.Exp {
		return nil, nil, fmt.Errorf("token expired")
	}

	return &claims, extra, nil
}
