package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"gold/pkg/linker"
)

var errColor = color.New(color.FgRed, color.Bold)

// rootCommand keeps everything the main gold command needs.
type rootCommand struct {
	cmd    *cobra.Command
	logger *logrus.Logger
	fs     afero.Fs

	configFilePath string
	verbose        bool
	quiet          bool
	noColor        bool
}

func newRootCommand(fs afero.Fs) *rootCommand {
	c := &rootCommand{
		logger: logrus.New(),
		fs:     fs,
	}

	c.cmd = &cobra.Command{
		Use:           "gold [flags] object...",
		Short:         "a symbol-resolving linker",
		Long:          "gold combines independently compiled object files into a single executable.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(1),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.setupLogger()
		},
		RunE: c.runLink,
	}

	c.cmd.PersistentFlags().AddFlagSet(c.rootFlagSet())
	c.cmd.Flags().AddFlagSet(linkFlagSet())
	return c
}

func (c *rootCommand) rootFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.StringVarP(&c.configFilePath, "config", "c", os.Getenv("GOLD_CONFIG"), "config file `path`")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")
	flags.BoolVarP(&c.quiet, "quiet", "q", false, "disable all logging except errors")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	return flags
}

func (c *rootCommand) setupLogger() {
	c.logger.SetOutput(os.Stderr)
	c.logger.SetFormatter(&logrus.TextFormatter{
		ForceColors:   !c.noColor,
		DisableColors: c.noColor,
	})

	switch {
	case c.verbose:
		c.logger.SetLevel(logrus.DebugLevel)
	case c.quiet:
		c.logger.SetLevel(logrus.ErrorLevel)
	default:
		c.logger.SetLevel(logrus.InfoLevel)
	}

	if c.noColor {
		color.NoColor = true
	}
}

func (c *rootCommand) runLink(cmd *cobra.Command, args []string) error {
	conf, err := getConsolidatedConfig(c.fs, cmd.Flags(), c.configFilePath)
	if err != nil {
		return err
	}

	req := conf.Request(args)

	ld := linker.NewLinker(c.fs, c.logger)
	if err := ld.Configure(req); err != nil {
		return err
	}

	result := ld.Execute()
	if !result.Success {
		for _, name := range result.UndefinedSymbolNames {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s undefined reference to %q\n",
				errColor.Sprint("gold:"), name)
		}
		return fmt.Errorf("link failed: %s", result.Error)
	}

	c.logger.WithFields(logrus.Fields{
		"output":   result.ExecutablePath,
		"objects":  result.ObjectsLinked,
		"resolved": result.SymbolsResolved,
	}).Debug("wrote executable")

	return nil
}

// Execute runs the root command and exits nonzero on failure.
func Execute() {
	c := newRootCommand(afero.NewOsFs())
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errColor.Sprint("gold:"), err)
		os.Exit(1)
	}
}
