//go:build tools

// Package tools pins the code generators run by go generate,
// mockgen produces mocks/ from contract/contract.go.
package chat_hub

import (
	_ "go.uber.org/mock/mockgen"
)
