package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wippyai/clr-image/scenario"
)

// packFlags are the reference pack and output flags shared by new and modify.
type packFlags struct {
	root    string
	version string
	out     string
	embed   bool
}

func (p *packFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&p.root, "dotnet-root", "", "dotnet installation holding packs/ (default $DOTNET_ROOT)")
	fs.StringVar(&p.version, "pack-version", "", "Reference pack version (default newest installed)")
	fs.StringVarP(&p.out, "out", "o", "", "Output directory")
	fs.BoolVar(&p.embed, "embed-symbols", false, "Also embed the symbols in the image")
}

func (p *packFlags) apply(fs *pflag.FlagSet, cfg *scenario.Config) {
	if fs.Changed("dotnet-root") {
		cfg.Pack.Root = p.root
	}
	if fs.Changed("pack-version") {
		cfg.Pack.Version = p.version
	}
	if fs.Changed("out") {
		cfg.OutputDir = p.out
	}
	if fs.Changed("embed-symbols") {
		cfg.EmbedSymbols = p.embed
	}
}

func newNewCmd(g *globalFlags) *cobra.Command {
	var (
		pack      packFlags
		name      string
		namespace string
		message   string
		arch      string
		kind      string
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Write a new console assembly that prints a message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			pack.apply(fs, cfg)
			if fs.Changed("name") {
				cfg.Assembly = name
				if !fs.Changed("namespace") {
					cfg.Namespace = name
				}
			}
			if fs.Changed("namespace") {
				cfg.Namespace = namespace
			}
			if fs.Changed("message") {
				cfg.Message = message
			}
			if fs.Changed("arch") {
				cfg.Architecture = arch
			}
			if fs.Changed("kind") {
				cfg.Kind = kind
			}

			loc, err := scenario.Loader(cfg)
			if err != nil {
				return err
			}
			res, err := scenario.WriteNew(cfg, loc)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	fs := cmd.Flags()
	pack.register(fs)
	fs.StringVarP(&name, "name", "n", "", "Assembly name")
	fs.StringVar(&namespace, "namespace", "", "Namespace of the Program type (default the assembly name)")
	fs.StringVarP(&message, "message", "m", "", "Message printed by Main")
	fs.StringVar(&arch, "arch", "", "Target architecture: i386, amd64 or arm64")
	fs.StringVar(&kind, "kind", "", "Module kind: console, windows or dll")
	return cmd
}

func printResult(cmd *cobra.Command, res *scenario.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", titleStyle.Render("wrote"), res.Assembly.FullName())
	for _, p := range []string{res.Image, res.Symbols, res.RuntimeConfig} {
		fmt.Fprintf(out, "  %s\n", pathStyle.Render(p))
	}
}
