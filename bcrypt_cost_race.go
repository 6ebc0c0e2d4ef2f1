//go:build race

package gatekeeper

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// race builds are slow enough without the production cost
	return bcrypt.DefaultCost
}
