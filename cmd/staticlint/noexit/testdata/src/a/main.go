package main

import (
	"os"
	sys "os"
)

func main() {
	defer func() {
		os.Exit(3)
	}()

	if len(os.Args) > 5 {
		sys.Exit(2) // want "вызов os.Exit в функции main запрещён"
	}
	os.Exit(1) // want "вызов os.Exit в функции main запрещён"
}

func fail() {
	os.Exit(1)
}
