// Package idgen generates catalog entity IDs: a kind prefix followed by a
// short URL-safe nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes per entity kind.
const (
	AlbumPrefix    = "alb-"
	PressingPrefix = "prs-"
)

// Alphabet defines the character set used for the random portion of the ID.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters (excluding the prefix).
const Length = 12

// Album returns a new album ID.
func Album() (string, error) { return WithPrefix(AlbumPrefix) }

// Pressing returns a new pressing ID.
func Pressing() (string, error) { return WithPrefix(PressingPrefix) }

// WithPrefix returns a new unique ID with the given prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
