package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/graph"
)

func readClass(path string) ([]byte, *classfile.Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	cls, err := classfile.Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, cls, nil
}

// handleDumpCommand prints a disassembly of a class or of the methods with
// one name.
func handleDumpCommand(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	method := fs.String("method", "", "only dump methods with this name")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("dump takes exactly one class file")
	}
	_, cls, err := readClass(fs.Arg(0))
	if err != nil {
		return err
	}
	if *method == "" {
		fmt.Print(classfile.Disassemble(cls))
		return nil
	}
	found := false
	for _, m := range cls.Methods {
		if m.Name == *method {
			fmt.Print(classfile.DisassembleMethod(m, cls.Pool))
			found = true
		}
	}
	if !found {
		return fmt.Errorf("no method %s in %s", *method, cls.Name)
	}
	return nil
}

// handleGraphCommand writes the control flow graph of a class, or of one
// method, as DOT. With -config the class is transformed first.
func handleGraphCommand(args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	config := fs.String("config", "", "transform with the modhook.toml found from this directory first")
	method := fs.String("method", "", "only graph methods with this name")
	output := fs.String("o", "", "output DOT file (default: stdout)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("graph takes exactly one class file")
	}
	data, cls, err := readClass(fs.Arg(0))
	if err != nil {
		return err
	}

	if *config != "" {
		e, _, err := loadEngine(*config, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		if data, err = e.Transform(cls.Name, data); err != nil {
			return err
		}
		if cls, err = classfile.Parse(data); err != nil {
			return err
		}
	}

	var dot string
	if *method == "" {
		dot = graph.Class(cls)
	} else {
		for _, m := range cls.Methods {
			if m.Name == *method {
				dot = graph.DOT(cls.Name+"."+m.Key(), m)
				break
			}
		}
		if dot == "" {
			return fmt.Errorf("no method %s in %s", *method, cls.Name)
		}
	}

	if *output == "" {
		fmt.Print(dot)
		return nil
	}
	return os.WriteFile(*output, []byte(dot), 0644)
}
