package http

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
)

// ErrInvalidToken token rechazado: firma, expiración, emisor o actor incoherente.
var ErrInvalidToken = errors.New("token inválido")

// actorClaims el actor viaja completo en el token; Subject es el UserID.
type actorClaims struct {
	jwt.RegisteredClaims
	PartyID string `json:"party_id,omitempty"` // industrial o transportista del usuario
	Role    string `json:"role,omitempty"`
}

// IssueToken firma un token HS256 para actor. Lo usan los planificadores externos
// (rol system) y los tests.
func IssueToken(secret, issuer string, actor entity.Actor, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt: secret vacío")
	}
	if err := checkActor(actor); err != nil {
		return "", err
	}
	now := time.Now()
	claims := actorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PartyID: actor.PartyID,
		Role:    actor.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken valida firma HS256, expiración y emisor (si issuer no es vacío) y
// devuelve el actor. Un rol vacío se acepta aquí y lo rechaza RequireRole.
func ParseToken(secret, issuer, tokenString string) (entity.Actor, error) {
	if secret == "" {
		return entity.Actor{}, fmt.Errorf("jwt: secret vacío")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	var claims actorClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return entity.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	actor := entity.Actor{UserID: claims.Subject, PartyID: claims.PartyID, Role: claims.Role}
	if err := checkActor(actor); err != nil {
		return entity.Actor{}, err
	}
	return actor, nil
}

// checkActor industrial y transportista solo ven su parte: sin PartyID el token no sirve.
func checkActor(a entity.Actor) error {
	if a.UserID == "" {
		return fmt.Errorf("%w: sin usuario", ErrInvalidToken)
	}
	switch a.Role {
	case "", entity.RoleAdmin, entity.RoleFinance, entity.RoleSystem:
		return nil
	case entity.RoleIndustrial, entity.RoleCarrier:
		if a.PartyID == "" {
			return fmt.Errorf("%w: rol %s sin party_id", ErrInvalidToken, a.Role)
		}
		return nil
	default:
		return fmt.Errorf("%w: rol desconocido %q", ErrInvalidToken, a.Role)
	}
}
