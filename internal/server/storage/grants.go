package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidGrant is returned for tokens that fail verification or have expired.
var ErrInvalidGrant = errors.New("invalid or expired download grant")

// GrantRequest describes the content a download grant unlocks.
type GrantRequest struct {
	FileID     string
	UserID     string
	StorageKey string
	FileName   string
	MimeType   string
}

// Grant is a time-bounded download handle.
type Grant struct {
	URL       string    `json:"url"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GrantIssuer produces download grants. How the handle works is up to the
// backend: a signed token for the filesystem, a presigned URL for S3.
type GrantIssuer interface {
	Issue(ctx context.Context, req GrantRequest, ttl time.Duration) (*Grant, error)
}

// DownloadClaims are carried by filesystem download tokens.
type DownloadClaims struct {
	FileID     string `json:"fid"`
	StorageKey string `json:"key"`
	FileName   string `json:"name"`
	MimeType   string `json:"mime,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs HS256 download tokens served by the API's /d/ route.
type TokenIssuer struct {
	secret  []byte
	baseURL string
}

var _ GrantIssuer = (*TokenIssuer)(nil)

// NewTokenIssuer creates an issuer. baseURL prefixes the returned links.
func NewTokenIssuer(secret, baseURL string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), baseURL: strings.TrimRight(baseURL, "/")}
}

func (i *TokenIssuer) Issue(_ context.Context, req GrantRequest, ttl time.Duration) (*Grant, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)
	claims := DownloadClaims{
		FileID:     req.FileID,
		StorageKey: req.StorageKey,
		FileName:   req.FileName,
		MimeType:   req.MimeType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   req.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign download token: %w", err)
	}
	return &Grant{
		URL:       i.baseURL + "/d/" + token,
		Token:     token,
		ExpiresAt: expires,
	}, nil
}

// Verify checks a token's signature and expiry.
func (i *TokenIssuer) Verify(token string) (*DownloadClaims, error) {
	claims := &DownloadClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	return claims, nil
}

// contentDisposition renders an attachment header for name.
func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

// ContentDisposition is exported for handlers serving filesystem downloads.
func ContentDisposition(name string) string { return contentDisposition(name) }
