// The main package for the scraperd executable.
package main

import (
	"github.com/mercadime/scraperd/cmd"
)

func main() {
	cmd.Execute()
}
