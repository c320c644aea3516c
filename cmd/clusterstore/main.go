// Command clusterstore serves and administers a cluster membership table
// and grain state store.
package main

func main() {
	Execute()
}
