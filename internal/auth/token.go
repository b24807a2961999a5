// Package auth provides the token sources the REST client authenticates
// with: a static anon key for hosted deployments and an HS256 issuer for
// self-hosted backends that share a JWT secret with the client.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Static returns a token source that always yields the same key.
func Static(key string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) { return key, nil }
}

// Claims are the backend-compatible JWT claims.
type Claims struct {
	Role     string `json:"role"`
	DeviceID string `json:"did,omitempty"`
	jwt.RegisteredClaims
}

// HS256Issuer mints short-lived HS256 tokens for a fixed user/device pair.
type HS256Issuer struct {
	secret     []byte
	userID     string
	deviceID   string
	role       string
	expiration time.Duration
}

// NewHS256Issuer creates an issuer. Role defaults to "authenticated".
func NewHS256Issuer(secret, userID, deviceID string, expiration time.Duration) *HS256Issuer {
	return &HS256Issuer{
		secret:     []byte(secret),
		userID:     userID,
		deviceID:   deviceID,
		role:       "authenticated",
		expiration: expiration,
	}
}

// Token mints a fresh token; it satisfies the REST client's token func.
func (i *HS256Issuer) Token(ctx context.Context) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role:     i.role,
		DeviceID: i.deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   i.userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiration)),
			Issuer:    "karatapp",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token minted by an HS256Issuer with the
// same secret. Used by tests and by local tooling.
func Validate(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user ID) in token")
	}
	return claims, nil
}
