// Command blobdbctl is the operator surface over the BlobDB façade: a
// small daemon that boots every namespace from an on-disk data
// directory and a spf13/cobra CLI to insert, read, inspect and sync
// against it, grounded on tonimelisma-onedrive-go's cmd/ + cobra
// convention and, for the loopback phone simulator, on
// brimstore-valuesstore/main.go's role in the teacher.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "blobdbctl: %v\n", err)
		os.Exit(1)
	}
}
