// Command collabctl mints development tokens and watches or holds section locks
// on a running sectionlock server.
package main

import "os"

func main() {
	os.Exit(Run())
}
