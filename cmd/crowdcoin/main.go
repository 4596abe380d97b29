// Command crowdcoin compiles and deploys the campaign contracts.
package main

func main() {
	Execute()
}
