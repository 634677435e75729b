// Package testhelpers provides utilities for testing optiflow-engine components.
package testhelpers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// GenerateTestJWT creates a test JWT token for use when verification is disabled.
// The token has a valid structure but no signature (alg: none).
// Empty sub, org and team are omitted from the payload.
func GenerateTestJWT(sub, org, team string, roles ...string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := map[string]any{}
	if sub != "" {
		payload["sub"] = sub
	}
	if org != "" {
		payload["org"] = org
	}
	if team != "" {
		payload["team"] = team
	}
	if len(roles) > 0 {
		payload["roles"] = roles
	}
	body, _ := json.Marshal(payload)

	encodedPayload := base64.RawURLEncoding.EncodeToString(body)
	return fmt.Sprintf("%s.%s.", header, encodedPayload)
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(sub, org, team string, roles ...string) string {
	return "Bearer " + GenerateTestJWT(sub, org, team, roles...)
}
