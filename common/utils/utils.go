// Package utils holds small cross-cutting helpers shared by more than one
// internal package.
package utils

import "os"

// ContextKey returns a distinct comparable value suitable for use as a
// context.Context key, avoiding collisions between packages that both
// happen to use the same string.
func ContextKey(name string) interface{} {
	return &name
}

// GetEnv returns the environment variable named name, or def if it is
// unset or empty.
func GetEnv(name string, def string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return def
}
