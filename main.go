package main

import "github.com/frahmantamala/peerpay/cmd"

func main() {
	cmd.Execute()
}
