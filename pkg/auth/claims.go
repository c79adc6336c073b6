// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth guards the sahayak HTTP API with bearer JWTs.
//
// Tokens are verified against the identity provider's JWKS, which is
// fetched once at startup and refreshed in the background to follow key
// rotation. Enable it in sahayak.yaml:
//
//	server:
//	  auth:
//	    enabled: true
//	    jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	    issuer: "https://auth.example.com"
//	    audience: "sahayak-api"
//
// Validated claims travel on the request context.
package auth

import (
	"context"
	"slices"
)

type contextKey string

const claimsContextKey contextKey = "sahayak_auth_claims"

// Claims are the validated claims of a bearer token.
type Claims struct {
	Subject  string `json:"sub"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`

	// Custom holds every private claim not mapped above.
	Custom map[string]any `json:"-"`
}

// GetStringClaim returns a custom claim if it is a string.
func (c *Claims) GetStringClaim(key string) string {
	if s, ok := c.Custom[key].(string); ok {
		return s
	}
	return ""
}

// HasAnyRole reports whether the caller holds one of roles.
func (c *Claims) HasAnyRole(roles ...string) bool {
	return c.Role != "" && slices.Contains(roles, c.Role)
}

// ClaimsFromContext returns the claims stored by Middleware, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// ContextWithClaims stores claims on ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
