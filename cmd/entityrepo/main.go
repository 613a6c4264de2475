/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Command entityrepo inspects and maintains the tables behind entityrepo collections.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
