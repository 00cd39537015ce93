// Package id generates identifiers used across the control plane.
package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// New returns a random UUID string. Thread and message ids must be
// UUIDs: the spawn marker convention embeds them in tool-result text.
func New() string {
	return uuid.NewString()
}

// Token returns a 24-character nanoid using an alphanumeric alphabet,
// used for subscriber and request tokens where UUID shape is not required.
func Token() string {
	token, err := gonanoid.Generate("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789", 24)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return token
}
