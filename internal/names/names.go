// Package names generates memorable default names for server instances.
package names

import (
	"fmt"
	"strings"

	"github.com/docker/docker/pkg/namesgenerator"
)

// TakenFn reports whether an instance name is already in use.
type TakenFn func(name string) bool

// Random returns a random adjective-surname name such as "eager-noether".
// Hyphens are used instead of underscores so the names read naturally in
// server hostnames and command lines.
func Random() string {
	return strings.ReplaceAll(namesgenerator.GetRandomName(0), "_", "-")
}

// Unique returns a random name not currently in use according to taken.
// Returns an error if no free name is found after maxAttempts tries.
func Unique(taken TakenFn, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 100
	}

	for range maxAttempts {
		name := Random()
		if !taken(name) {
			return name, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique instance name after %d attempts", maxAttempts)
}
