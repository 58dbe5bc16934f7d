package main

import (
	"os"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
