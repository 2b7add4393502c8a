package main

import "github.com/GriffinCanCode/track17/backend/internal/cli"

func main() {
	cli.Execute()
}
