package main

import "github.com/altivon/vpn-portal/cmd/portalctl/cmd"

func main() {
	cmd.Execute()
}
