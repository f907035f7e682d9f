package main

import (
	"os"

	"github.com/cadwell/turnstile/cli"
	"github.com/cadwell/turnstile/modules/sdkstub"
)

func main() {
	c := cli.New()
	c.RegisterModule(&sdkstub.Module{})
	os.Exit(c.Run(os.Args[1:]))
}
