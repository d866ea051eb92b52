package main

import (
	"github.com/ColonelBlimp/vibemon/cmd"
	"github.com/ColonelBlimp/vibemon/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
