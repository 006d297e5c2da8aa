package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenBundle is the pair of freshly minted tokens returned to a client.
type TokenBundle struct {
	AccessToken      string `json:"accessToken"`
	AccessExpiresAt  int64  `json:"accessExpiresAt"`
	RefreshToken     string `json:"refreshToken"`
	RefreshExpiresAt int64  `json:"refreshExpiresAt"`
}

// HashToken derives the storage key for a presented token. Tokens are never
// stored raw.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (w *World) mintToken(playerId types.PlayerIdType, sessionId types.SessionIdType, kind types.TokenKind, ttl time.Duration, now int64) (string, int64, error) {
	expiresAt := now + ttl.Milliseconds()
	claims := jwt.MapClaims{
		"sub":  string(playerId),
		"sid":  string(sessionId),
		"kind": string(kind),
		"jti":  uuid.NewString(),
		"iat":  now / 1000,
		"exp":  expiresAt / 1000,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(w.tokenSigningKey)
	if err != nil {
		return "", 0, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return token, expiresAt, nil
}

// IssueSessionTokens mints an access/refresh pair bound to (session, player),
// revokes any earlier live tokens for the same binding and records the new
// pair by hash. Caller persists.
func (w *World) IssueSessionTokens(sessionId types.SessionIdType, playerId types.PlayerIdType) (*TokenBundle, error) {
	now := w.clock.NowMs()

	access, accessExp, err := w.mintToken(playerId, sessionId, types.TokenKindAccess, defaultAccessTokenTTL, now)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := w.mintToken(playerId, sessionId, types.TokenKindRefresh, defaultRefreshTokenTTL, now)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.data.AuthTokens {
		if t.PlayerId == playerId && t.SessionId == sessionId && t.RevokedAt == 0 {
			t.RevokedAt = now
		}
	}
	w.data.AuthTokens[HashToken(access)] = &types.AuthToken{
		TokenHash: HashToken(access),
		PlayerId:  playerId,
		SessionId: sessionId,
		IssuedAt:  now,
		ExpiresAt: accessExp,
		Kind:      types.TokenKindAccess,
	}
	w.data.AuthTokens[HashToken(refresh)] = &types.AuthToken{
		TokenHash: HashToken(refresh),
		PlayerId:  playerId,
		SessionId: sessionId,
		IssuedAt:  now,
		ExpiresAt: refreshExp,
		Kind:      types.TokenKindRefresh,
	}

	return &TokenBundle{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// LookupToken returns a copy of the stored record for a presented token, or
// nil when unknown.
func (w *World) LookupToken(token string) *types.AuthToken {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.data.AuthTokens[HashToken(token)]; ok {
		cp := *t
		return &cp
	}
	return nil
}

// AuthorizeSessionToken checks a presented token against (session, player).
// Returns the empty string on success, else the rejection reason.
func (w *World) AuthorizeSessionToken(sessionId types.SessionIdType, playerId types.PlayerIdType, token string, kind types.TokenKind) string {
	record := w.LookupToken(token)
	if record == nil {
		return types.ReasonTokenNotFound
	}
	if record.Kind != kind || record.RevokedAt != 0 || record.ExpiresAt <= w.clock.NowMs() {
		return types.ReasonUnauthorized
	}
	if record.SessionId != sessionId || record.PlayerId != playerId {
		return types.ReasonSessionTokenMismatch
	}
	return ""
}

// RemoveSessionTokens deletes every token bound to the session. Runs inside
// an Update closure so session deletion removes owned sub-entities
// atomically.
func RemoveSessionTokens(data *types.StoreData, sessionId types.SessionIdType) {
	for hash, t := range data.AuthTokens {
		if t.SessionId == sessionId {
			delete(data.AuthTokens, hash)
		}
	}
}
