package main

import "github.com/lun1tunes/instachatico/internal/cli"

func main() {
	cli.Execute()
}
