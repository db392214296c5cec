// Command animc compiles animation sources into platform blobs, database
// archives and global animation indexes.
package main

import "github.com/papapumpkin/animc/cmd"

func main() {
	cmd.Execute()
}
