package main

import (
	"os"

	"sitechat/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
