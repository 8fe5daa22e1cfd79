// Package docs holds the general API annotations for ipsweep. Endpoint
// annotations live on the handlers in internal/api/handlers.
//
//go:generate swag init -g swagger_docs.go -d ./,../internal/api/handlers -o ./swagger --parseDependency --parseInternal
package docs

// @title ipsweep API
// @version 1.0
// @description Network discovery and scan orchestration service.
// @description
// @description Jobs sweep IPv4 ranges for live hosts, probe their TCP ports and classify
// @description services. Progress streams over a websocket; results persist to PostgreSQL
// @description when a database is configured.
// @description
// @description ## Authentication
// @description When API keys are configured, include one in the `X-API-Key` header or as a
// @description bearer token. The health endpoint is always public.
//
// @contact.name ipsweep maintainers
// @contact.url https://github.com/anstrom/ipsweep
//
// @license.name MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
