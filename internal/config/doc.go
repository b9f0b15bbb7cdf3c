// Package config builds the immutable run configuration of crio-get.
//
// Command-line flags and environment variables are read exactly once, by
// Load, through viper. Nothing downstream consults the environment: every
// package receives the values it needs from the Config.
//
// # Environment
//
//   - GITHUB_TOKEN: bearer token for the build-status API
//   - CRIO_GET_VERIFY: auto (default), always or never
//   - CRIO_GET_MAX_PAGES: bound on build-status pages (default 50)
//   - CRIO_GET_LOG_LEVEL: debug, info, warn or error
//   - CRIO_GET_TRACE: print OpenTelemetry spans to stderr
//   - CRIO_GET_STORAGE_URL, CRIO_GET_API_URL: endpoint overrides
//   - CRIO_GET_FULCIO_ROOTS: PEM bundle enabling certificate chain checks
//   - CRIO_GET_CERT_IDENTITY_REGEXP, CRIO_GET_CERT_OIDC_ISSUER: signer identity
//   - DESTDIR, PREFIX, BINDIR, ...: installation layout
package config
