package main

import (
	"github.com/shouni/go-extract-api/cmd"
)

func main() {
	cmd.Execute()
}
