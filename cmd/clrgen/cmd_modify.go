package main

import (
	"github.com/spf13/cobra"

	"github.com/wippyai/clr-image/scenario"
)

func newModifyCmd(g *globalFlags) *cobra.Command {
	var (
		pack     packFlags
		symbols  string
		name     string
		typeName string
		method   string
		message  string
		imports  string
	)
	cmd := &cobra.Command{
		Use:   "modify [image]",
		Short: "Add a new entry point to an existing assembly and write it under a new name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			pack.apply(fs, cfg)
			if len(args) == 1 {
				cfg.Modify.Image = args[0]
			}
			if fs.Changed("symbols") {
				cfg.Modify.Symbols = symbols
			}
			if fs.Changed("name") {
				cfg.Modify.Name = name
			}
			if fs.Changed("type") {
				cfg.Modify.Type = typeName
			}
			if fs.Changed("method") {
				cfg.Modify.Method = method
			}
			if fs.Changed("message") {
				cfg.Modify.Message = message
			}
			if fs.Changed("imports-from") {
				cfg.Modify.ImportsFrom = imports
			}

			loc, err := scenario.Loader(cfg)
			if err != nil {
				return err
			}
			res, err := scenario.Modify(cfg, loc)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	fs := cmd.Flags()
	pack.register(fs)
	fs.StringVar(&symbols, "symbols", "", "Symbol file of the source image (default <image>.pdb)")
	fs.StringVarP(&name, "name", "n", "", "New assembly name")
	fs.StringVar(&typeName, "type", "", "Name of the added type")
	fs.StringVar(&method, "method", "", "Name of the added entry point")
	fs.StringVarP(&message, "message", "m", "", "Message printed by the added entry point")
	fs.StringVar(&imports, "imports-from", "", "Full name of the type whose import scope is reused")
	return cmd
}
