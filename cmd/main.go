package main

import (
	"go.uber.org/fx"

	"sign-vrtl/internal/service"
)

func main() {
	fx.New(service.Options()).Run()
}
