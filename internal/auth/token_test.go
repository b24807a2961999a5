// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStaticAlwaysReturnsKey(t *testing.T) {
	source := Static("anon-key")
	token, err := source(context.Background())
	require.NoError(t, err)
	require.Equal(t, "anon-key", token)
}

func TestIssueAndValidate(t *testing.T) {
	issuer := NewHS256Issuer("secret", "user-1", "device-1", time.Hour)

	token, err := issuer.Token(context.Background())
	require.NoError(t, err)

	claims, err := Validate("secret", token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "device-1", claims.DeviceID)
	require.Equal(t, "authenticated", claims.Role)
	require.Equal(t, "karatapp", claims.Issuer)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewHS256Issuer("secret", "user-1", "device-1", time.Hour)
	token, err := issuer.Token(context.Background())
	require.NoError(t, err)

	_, err = Validate("other-secret", token)
	require.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	issuer := NewHS256Issuer("secret", "user-1", "device-1", -time.Minute)
	token, err := issuer.Token(context.Background())
	require.NoError(t, err)

	_, err = Validate("secret", token)
	require.Error(t, err)
}
