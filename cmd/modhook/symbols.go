package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/modhook/symbol"
)

// handleSymbolsCommand compiles mapping files into a CBOR symbol cache, or
// lists the resolved names under one profile.
// Usage:
//
//	modhook symbols -o .modhook/symbols.cbor maps/client.toml maps/export.json
//	modhook symbols -profile raw maps/client.toml
func handleSymbolsCommand(args []string) error {
	fs := flag.NewFlagSet("symbols", flag.ExitOnError)
	output := fs.String("o", "", "write the compiled cache here")
	profile := fs.String("profile", "", "list every symbol's name under this profile")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("symbols needs at least one mapping file")
	}

	table := symbol.NewTable()
	for _, path := range fs.Args() {
		if err := table.LoadFile(path); err != nil {
			return err
		}
	}

	if *profile != "" {
		p, err := symbol.ParseProfile(*profile)
		if err != nil {
			return err
		}
		for _, s := range table.Symbols() {
			fmt.Printf("%-8s %-40s %s\n", s.Kind, s.Key(), s.Name(p))
		}
	}

	if *output != "" {
		data, err := table.MarshalCBOR()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(*output), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(*output, data, 0644); err != nil {
			return err
		}
		fmt.Printf("%d symbols -> %s\n", table.Len(), *output)
	}
	return nil
}
