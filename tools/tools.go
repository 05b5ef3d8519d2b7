//go:build tools
// +build tools

// Package tools pins the code generator used against api/openapi.yaml so every checkout
// resolves the same version. The build tag keeps it out of normal builds.
package tools

import (
	_ "github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen"
)
