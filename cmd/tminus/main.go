package main

import (
	"github.com/ramxx/tminus/adapter/cli"
	"github.com/ramxx/tminus/pkg/observability"
)

func main() {
	cli.SetLogger(observability.LoggerFromEnv())
	cli.Execute()
}
