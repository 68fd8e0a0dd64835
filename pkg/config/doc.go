// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables
// with sensible defaults, plus a YAML trust file for the material that does
// not fit environment variables: certificates, distinguished names, audience
// lists and the claim mapping.
//
// # Configuration Structure
//
// Server settings:
//
//	FEDGATE_HOST="0.0.0.0"
//	FEDGATE_PORT="8080"
//	FEDGATE_READ_TIMEOUT="15s"
//	FEDGATE_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	FEDGATE_POSTGRES_URL="postgres://localhost/fedgate"
//	FEDGATE_POSTGRES_MAX_CONNS="25"
//	FEDGATE_REDIS_URL="redis://localhost:6379"
//
// Federation settings:
//
//	FEDGATE_IDP_URL="https://idp.example/adfs/ls/"
//	FEDGATE_REALM="urn:example:app"
//	FEDGATE_REPLY_POLICY="shortened"  # disabled, full, shortened
//	FEDGATE_INCLUDE_CONTEXT="true"
//	FEDGATE_TRUST_FILE="/etc/fedgate/trust.yaml"
//
// Session settings:
//
//	FEDGATE_SESSION_STORE="redis"  # redis, postgres
//	FEDGATE_SESSION_TTL="8h"
//	FEDGATE_PENDING_TTL="10m"
//
// Observability settings:
//
//	FEDGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	FEDGATE_METRICS_ENABLED="true"
//
// # Trust File
//
// The trust file is YAML:
//
//	entity_id: urn:example:app
//	issuer_name: https://idp.example/issue
//	issuer_dn: CN=corp-ca
//	subject_dns:
//	  - CN=idp.example
//	audiences:
//	  - https://app.example/
//	certificates:
//	  - |
//	    -----BEGIN CERTIFICATE-----
//	    ...
//	clock_skew: 30s
//	mapping: |
//	  external_id=http://schemas.example.org/claims/upn
//	  email=http://schemas.example.org/claims/emailaddress
//	username_fields: [given_name, surname]
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	trust, err := config.LoadTrustFile(cfg.Federation.TrustFile)
package config
