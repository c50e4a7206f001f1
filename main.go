package main

import "github.com/kamilpajak/cascade/cmd/cascade"

func main() {
	cascade.Execute()
}
