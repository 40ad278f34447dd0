// Package domain contains the core QR request concepts for the service.
// Keep this package free of transport (HTTP) and infrastructure (Redis/Postgres) concerns.
package domain
