// Command varstore inspects UEFI variable stores and serves them over HTTP.
package main

func main() {
	execute()
}
