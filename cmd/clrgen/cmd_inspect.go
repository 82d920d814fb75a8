package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/clr-image"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB"))

	methodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newInspectCmd() *cobra.Command {
	var (
		symbols     string
		format      string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <image>",
		Short: "Show the types, IL and symbols of an assembly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if symbols == "" {
				candidate := strings.TrimSuffix(path, filepath.Ext(path)) + ".pdb"
				if _, err := os.Stat(candidate); err == nil {
					symbols = candidate
				}
			}
			asm, err := clrimage.ReadFiles(path, symbols)
			if err != nil {
				return err
			}
			d := dumpAssembly(asm)

			if interactive {
				if !term.IsTerminal(int(os.Stdout.Fd())) {
					return fmt.Errorf("interactive mode needs a terminal")
				}
				return runInteractive(path, d)
			}
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(d); err != nil {
					return fmt.Errorf("encode yaml: %w", err)
				}
				return enc.Close()
			case "text":
				printDump(cmd.OutOrStdout(), d)
				return nil
			}
			return fmt.Errorf("unknown format %q", format)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&symbols, "symbols", "", "Symbol file (default <image>.pdb when present)")
	fs.StringVarP(&format, "format", "f", "text", "Output format: text or yaml")
	fs.BoolVarP(&interactive, "interactive", "i", false, "Browse methods in a TUI")
	return cmd
}

func printDump(w io.Writer, d *assemblyDump) {
	fmt.Fprintln(w, titleStyle.Render(d.Name))
	fmt.Fprintf(w, "module %s  mvid %s\n", d.Module, d.Mvid)
	if d.EntryPoint != "" {
		fmt.Fprintf(w, "entry point %s\n", methodStyle.Render(d.EntryPoint))
	}
	section := func(name string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render(name))
		for _, it := range items {
			fmt.Fprintf(w, "  %s\n", it)
		}
	}
	section("References", d.References)
	section("Attributes", d.Attributes)
	section("Documents", d.Documents)
	section("Dropped tables", d.DroppedTables)

	for _, t := range d.Types {
		fmt.Fprintln(w)
		header := t.Name
		if t.Base != "" {
			header += " : " + t.Base
		}
		fmt.Fprintln(w, headerStyle.Render(header))
		for _, f := range t.Fields {
			fmt.Fprintf(w, "  %s\n", f)
		}
		for _, m := range t.Methods {
			fmt.Fprintf(w, "  %s\n", methodStyle.Render(m.Signature))
			for _, l := range methodLines(m) {
				fmt.Fprintf(w, "    %s\n", l)
			}
		}
	}
}

// methodLines renders a method body with its debug information.
func methodLines(m methodDump) []string {
	var out []string
	for _, l := range m.Locals {
		out = append(out, ".locals "+l)
	}
	out = append(out, m.IL...)
	for _, sp := range m.SequencePoints {
		out = append(out, pathStyle.Render("sp "+sp))
	}
	if m.Scope != "" {
		out = append(out, pathStyle.Render("scope "+m.Scope))
	}
	for _, imp := range m.Imports {
		out = append(out, pathStyle.Render("import "+imp))
	}
	return out
}
