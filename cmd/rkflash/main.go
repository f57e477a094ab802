package main

import (
	_ "github.com/joho/godotenv/autoload"

	"github.com/oshokin/rkflash/cmd/rkflash/cmd"
)

func main() {
	cmd.Execute()
}
