// stp-cli is the operator client for stp-vendor and stp-provider
package main

import "github.com/information-sharing-networks/stp-demo/internal/cli"

func main() {
	cli.Execute()
}
