package main

import (
	"github.com/JakeFAU/fulltext-fetcher/cmd"
)

func main() {
	cmd.Execute()
}
