// Package database provides connection management, configuration loading,
// logging, query hooks, store error classification and the model registry
// built on top of Bun.
package database
