// Package logger wraps zap with a console encoder and context helpers.
//
// Every pipeline stage receives a context and extracts its logger from it,
// so a stage name attached with WithName shows up on every line the stage
// writes.
package logger
