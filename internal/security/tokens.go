package security

import (
	"crypto"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token verification failures. The gateway treats all three as "no valid
// token"; they are distinct so tests and logs can tell them apart.
var (
	// ErrTokenExpired is returned when the token's embedded expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidSignature is returned when the token was not signed by this codec's key.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMalformedToken is returned when the token cannot be parsed at all.
	ErrMalformedToken = errors.New("malformed token")
)

// TokenTypeRefresh is the token_type claim value marking refresh tokens.
// Access tokens carry no token_type claim.
const TokenTypeRefresh = "refresh"

// Claims holds the JWT claims carried by both token kinds: the subject user
// id, the session id, and an optional token type.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	TokenType string `json:"token_type,omitempty"`
}

// TokenCodec signs and verifies compact session tokens using RS256 or ES256
// (private/public key). Two TTL profiles are issued: a short access TTL and a
// long refresh TTL.
type TokenCodec struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenCodec returns a TokenCodec that signs with the given private key
// (RSA or ECDSA). issuer and audience are set on claims and validated on verify.
func NewTokenCodec(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenCodec {
	return &TokenCodec{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// NewTokenCodecFromPEM builds a TokenCodec from PEM-encoded keys; each key may
// be inline PEM or a file path (see LoadPEM).
func NewTokenCodecFromPEM(privateKeyPEM, publicKeyPEM, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenCodec, error) {
	signer, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return NewTokenCodec(signer, pub, issuer, audience, accessTTL, refreshTTL), nil
}

// AccessTTL returns the access-token lifetime the codec issues with.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the refresh-token lifetime the codec issues with.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess issues a short-lived access JWT bound to the given user and
// session. Returns the token string and its absolute expiry.
func (c *TokenCodec) IssueAccess(userID, sessionID string) (token string, expiresAt time.Time, err error) {
	return c.issue(userID, sessionID, "", c.accessTTL)
}

// IssueRefresh issues a long-lived refresh JWT with the refresh token_type
// claim. The caller persists its hash on the session row so the token can be
// revoked independent of signature validity.
func (c *TokenCodec) IssueRefresh(userID, sessionID string) (token string, expiresAt time.Time, err error) {
	return c.issue(userID, sessionID, TokenTypeRefresh, c.refreshTTL)
}

func (c *TokenCodec) issue(userID, sessionID, tokenType string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
		TokenType: tokenType,
	}
	alg := KeyAlg(c.privateKey.Public())
	if alg == "" {
		return "", time.Time{}, ErrInvalidSignature
	}
	token, err := jwt.NewWithClaims(jwt.GetSigningMethod(alg), claims).SignedString(c.privateKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify parses and validates a token (signature, exp, iss, aud) and returns
// its claims. Fails with ErrTokenExpired, ErrInvalidSignature, or
// ErrMalformedToken.
func (c *TokenCodec) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return c.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return c.publicKey, nil
		}
		return nil, ErrInvalidSignature
	},
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenUnverifiable),
			errors.Is(err, jwt.ErrTokenInvalidIssuer),
			errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformedToken
		}
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// HashRefreshToken returns the hex-encoded SHA-256 digest of a refresh token.
// Session rows store the digest, never the raw token.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RefreshTokenHashEqual reports whether the presented token hashes to
// storedHash. The comparison is constant time.
func RefreshTokenHashEqual(presentedToken, storedHash string) bool {
	digest := HashRefreshToken(presentedToken)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedHash)) == 1
}
