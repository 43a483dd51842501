package main

import (
	"flag"
	"fmt"
	"os"

	"pkt.systems/tenantgate/bootstrap"
)

func main() {
	var output string
	var overwrite bool
	flag.StringVar(&output, "output", "deploy", "output directory")
	flag.StringVar(&output, "o", "deploy", "output directory")
	flag.BoolVar(&overwrite, "force", false, "overwrite existing files")
	flag.Parse()

	paths, err := bootstrap.WriteBootstrap(output, overwrite)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stdout, paths.ConfigPath)
	fmt.Fprintln(os.Stdout, paths.ContainerConfigPath)
	fmt.Fprintln(os.Stdout, paths.ComposePath)
	fmt.Fprintln(os.Stdout, paths.EnvPath)
}
