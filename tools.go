//go:build tools
// +build tools

// Package tools pins the lint binary used on this module
// (go run github.com/golangci/golangci-lint/cmd/golangci-lint run ./...).
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)
