package httpapi

import (
	"errors"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"raankha/backoffice/internal/domain"
)

// TokenVerifier checks bearer tokens minted by the back-office identity
// service. This engine verifies and never issues; the shared HMAC secret is
// the only coupling between the two.
type TokenVerifier struct {
	secret   []byte
	issuer   string
	adminPIN string
}

type principalClaims struct {
	jwtlib.RegisteredClaims
	Role      string `json:"role"`
	Name      string `json:"name"`
	PriceTier string `json:"price_tier"`
}

// NewTokenVerifier hashes the admin PIN once at startup; a blank PIN leaves
// the PIN-gated operations disabled.
func NewTokenVerifier(secret string, issuer string, adminPIN string) *TokenVerifier {
	if issuer == "" {
		issuer = "raankha"
	}
	v := &TokenVerifier{secret: []byte(secret), issuer: issuer}

	adminPIN = strings.TrimSpace(adminPIN)
	if adminPIN != "" {
		if hashed, err := bcrypt.GenerateFromPassword([]byte(adminPIN), bcrypt.DefaultCost); err == nil {
			v.adminPIN = string(hashed)
		}
	}
	return v
}

func (v *TokenVerifier) Verify(tokenStr string) (domain.Principal, error) {
	claims := &principalClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(v.issuer))
	if err != nil || !token.Valid {
		return domain.Principal{}, errors.New("invalid or expired token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Principal{}, errors.New("invalid token subject")
	}
	if claims.Role != domain.RoleAdmin && claims.Role != domain.RoleEmployee {
		return domain.Principal{}, errors.New("unknown role")
	}

	return domain.Principal{
		ID:        sub,
		Name:      claims.Name,
		Role:      claims.Role,
		PriceTier: domain.PriceTier(claims.PriceTier),
	}, nil
}

// VerifyAdminPIN is the second factor for destructive operations: the admin
// types the PIN at the terminal and it rides the request as a header.
func (v *TokenVerifier) VerifyAdminPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || v.adminPIN == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(v.adminPIN), []byte(input)) == nil
}
