// Package main is the entry point of the testrender command.
package main

import (
	"context"

	"github.com/liuxd6825/testrender/cmd/state"
	"github.com/liuxd6825/testrender/internal/cmd"
)

func main() {
	cmd.ExecuteWithGlobalState(state.NewGlobalState(context.Background()))
}
