package main

import (
	"context"

	"gfx.cafe/util/go/gotel"

	pgguardcmd "github.com/ardentperf/pg-idle-test/cmd"
)

func main() {
	fn, _ := gotel.InitTracing(context.Background(), gotel.WithServiceName("pgguard"))
	defer fn(context.Background())

	pgguardcmd.Main()
}
