// Command dcpd serves and calls tools over the dcp protocol.
package main

func main() {
	Execute()
}
