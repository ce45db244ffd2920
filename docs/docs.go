// Package docs holds the hand-maintained OpenAPI (Swagger 2.0) document
// served at /docs, grounded on the teacher's engine/infra/server/reg_docs.go
// swag.Spec registration pattern. Unlike the teacher's generated docs
// package (produced by `swag init` scanning source annotations), this one
// is written directly against the route table in internal/httpapi, since
// this repository never runs the annotation generator.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "feen-gateway API",
        "description": "Multi-tenant API key vault and AI provider proxy gateway.",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "schemes": {{ marshal .Schemes }},
    "paths": {
        "/healthz": {
            "get": {
                "summary": "Report dependency health",
                "responses": {
                    "200": {"description": "all dependencies reachable"},
                    "503": {"description": "one or more dependencies degraded"}
                }
            }
        },
        "/api/proxy/{path}": {
            "get": {
                "summary": "Proxy an inference request to the upstream provider selected for the shared token",
                "parameters": [
                    {"name": "path", "in": "path", "required": true, "type": "string"},
                    {"name": "Authorization", "in": "header", "required": true, "type": "string", "description": "Bearer <shared access token>"}
                ],
                "responses": {
                    "200": {"description": "upstream response, streamed through unchanged"},
                    "401": {"description": "unknown, expired, or inactive token, or a failed request signature"},
                    "403": {"description": "policy check failed (IP, model, scope)"},
                    "429": {"description": "rate limit exceeded"}
                }
            },
            "post": {
                "summary": "Proxy an inference request to the upstream provider selected for the shared token",
                "parameters": [
                    {"name": "path", "in": "path", "required": true, "type": "string"},
                    {"name": "Authorization", "in": "header", "required": true, "type": "string", "description": "Bearer <shared access token>"}
                ],
                "responses": {
                    "200": {"description": "upstream response, streamed through unchanged"},
                    "401": {"description": "unknown, expired, or inactive token, or a failed request signature"},
                    "403": {"description": "policy check failed (IP, model, scope)"},
                    "429": {"description": "rate limit exceeded"}
                }
            }
        },
        "/api/v1/api-keys": {
            "get": {"summary": "List the caller's api keys", "responses": {"200": {"description": "ok"}}},
            "post": {"summary": "Deposit an upstream provider credential into the vault", "responses": {"201": {"description": "created"}}}
        },
        "/api/v1/api-keys/{id}": {
            "get": {"summary": "Fetch an api key's metadata (never its material)", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}, "404": {"description": "not found or not owned by caller"}}},
            "patch": {"summary": "Update an api key's rate limit, daily cap, or active flag", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}}},
            "delete": {"summary": "Remove an api key", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "deleted"}}}
        },
        "/api/v1/api-keys/{id}/reveal": {
            "post": {"summary": "Decrypt and return an api key's plaintext material", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}}}
        },
        "/api/v1/shared-tokens": {
            "get": {"summary": "List the caller's shared tokens", "responses": {"200": {"description": "ok"}}},
            "post": {"summary": "Mint a shared access token scoped to one api key", "responses": {"201": {"description": "created, plaintext token returned once"}}}
        },
        "/api/v1/shared-tokens/{id}": {
            "get": {"summary": "Fetch a shared token's metadata", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}}},
            "patch": {"summary": "Update a shared token's limits, scopes, or expiry", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}}},
            "delete": {"summary": "Revoke a shared token", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "deleted"}}}
        },
        "/api/v1/shared-tokens/{id}/rotate": {
            "post": {"summary": "Manually rotate a shared token's access token", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}}}
        },
        "/api/v1/2fa/enroll": {
            "post": {"summary": "Issue a TOTP secret and backup codes for the caller", "responses": {"200": {"description": "ok"}}}
        },
        "/api/v1/2fa/verify": {
            "post": {"summary": "Verify a TOTP or backup code, enabling two-factor on first success", "responses": {"200": {"description": "ok"}, "400": {"description": "invalid code"}}}
        },
        "/api/v1/2fa/disable": {
            "post": {"summary": "Disable two-factor for the caller", "responses": {"204": {"description": "disabled"}}}
        },
        "/api/v1/webhooks": {
            "get": {"summary": "List the caller's webhooks", "responses": {"200": {"description": "ok"}}},
            "post": {"summary": "Register a webhook endpoint for delivery events", "responses": {"201": {"description": "created, signing secret returned once"}}}
        },
        "/api/v1/webhooks/{id}": {
            "get": {"summary": "Fetch a webhook's metadata", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}}},
            "delete": {"summary": "Remove a webhook", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "deleted"}}}
        }
    }
}`

// SwaggerInfo holds the metadata stamped into docTemplate at serve time.
// Host is overwritten at startup with the runtime's actual value, the same
// seam the teacher's configureSwaggerInfo uses. BasePath stays "/" because
// every path in docTemplate is already absolute.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "feen-gateway API",
	Description:      "Multi-tenant API key vault and AI provider proxy gateway.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
