package main

import (
	"github.com/strata-tsdb/strata/cli/cmd"
)

func main() {
	cmd.Execute()
}
