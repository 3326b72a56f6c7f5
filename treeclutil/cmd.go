/*
Copyright © 2024 the treecl authors.
This file is part of treecl.

treecl is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

treecl is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with treecl.  If not, see <http://www.gnu.org/licenses/>.
*/

package treeclutil

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/treecl"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

// hornSpecies are the codes of the species with published growth and
// survival response curves (Horn et al., 2018).
var hornSpecies = []int{11, 12, 15, 17, 19, 64, 65, 68, 69, 71, 73, 81, 93, 94, 95, 97, 105, 106, 108,
	110, 111, 121, 122, 125, 126, 129, 131, 132, 133, 202, 221, 222, 241, 242,
	261, 263, 264, 313, 316, 317, 318, 371, 372, 375, 391, 402, 403, 407, 408,
	409, 461, 462, 531, 541, 543, 544, 552, 602, 611, 621, 631, 641, 653, 691,
	693, 694, 701, 711, 731, 741, 743, 746, 762, 802, 805, 806, 809, 812, 820,
	823, 826, 827, 831, 832, 833, 835, 837, 901, 922, 931, 951, 971, 972, 975}

func init() {
	// Options are the configuration options available to treecl.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Workspace",
			usage: `
              Workspace is the location where input and output rasters are
              stored, in the format 'provider://name/prefix'. Valid providers
              are 'file' for a local directory, 'gs' for Google Cloud
              Storage, 's3' for AWS S3, and 'mem' for a temporary in-memory
              workspace.`,
			shorthand:  "w",
			defaultVal: "file://treecl_workspace",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile, if specified, is a file that log messages are written to
              in addition to the standard output.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum level of log messages to write. Valid
              options are debug, info, warning, and error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "CacheSize",
			usage: `
              CacheSize is the number of rasters to keep in memory after
              they are read.`,
			defaultVal: 64,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Period",
			usage: `
              Period is the suffix of the deposition rasters to use, e.g.
              1719 for the rasters n_tw_1719 and s_tw_1719.`,
			shorthand:  "p",
			defaultVal: "1719",
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "Elements",
			usage: `
              Elements lists the deposited elements to calculate results for.
              Valid options are n and s.`,
			defaultVal: []string{"n", "s"},
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "Responses",
			usage: `
              Responses lists the response variables to calculate results for.
              Valid options are growth and survival.`,
			defaultVal: []string{"growth", "survival"},
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "Species",
			usage: `
              Species lists the codes of the species to calculate basal-area
              proportions for. An empty list selects all species.`,
			defaultVal: hornSpecies,
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "RequireAllSpecies",
			usage: `
              RequireAllSpecies, if true, stops the proportion stage before any
              proportions are calculated if any species in the Species list
              has no basal-area raster. Otherwise those species are skipped.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "ExpectedBasalAreaCount",
			usage: `
              ExpectedBasalAreaCount is the number of species basal-area rasters
              that must be present before any basal-area calculations are
              done. Zero disables the check.`,
			defaultVal: 324,
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "GrowthTable",
			usage: `
              GrowthTable is the location of the species growth response table.
              It can be a CSV file path, an http(s), gs, or s3 URL of a CSV
              file, or a database table in the format
              'sqlite://path?table=name' or 'postgres://...?table=name'.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "SurvivalTable",
			usage: `
              SurvivalTable is the location of the species survival response
              table, in the same formats as GrowthTable.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "Growth.Reduction",
			usage: `
              Growth.Reduction is the relative reduction in growth for which
              deposition levels are calculated.`,
			defaultVal: treecl.Growth.Reduction,
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "Growth.T",
			usage: `
              Growth.T normalizes the reduction term when calculating the
              deposition level for a reduction in growth.`,
			defaultVal: treecl.Growth.T,
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "Survival.Reduction",
			usage: `
              Survival.Reduction is the relative reduction in survival for which
              deposition levels are calculated.`,
			defaultVal: treecl.Survival.Reduction,
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "Survival.T",
			usage: `
              Survival.T normalizes the reduction term when calculating the
              deposition level for a reduction in survival.`,
			defaultVal: treecl.Survival.T,
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "Percentile",
			usage: `
              Percentile is the percentile (between 0 and 100) across species
              calculated by the aggregate stage.`,
			defaultVal: 5.0,
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "AggregateSources",
			usage: `
              AggregateSources lists the species results aggregated by the
              aggregate stage. Valid options are effect, deplevel, and
              weighted.`,
			defaultVal: []string{"effect", "deplevel"},
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "TileRows",
			usage: `
              TileRows is the number of raster rows aggregated at a time. Zero
              aggregates whole rasters, which requires enough memory to hold
              every species raster at once.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "Workers",
			usage: `
              Workers is the number of rasters calculated at the same time.`,
			defaultVal: runtime.GOMAXPROCS(-1),
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "MetricsAddr",
			usage: `
              MetricsAddr, if specified, is the address (e.g. ':9090') where
              progress metrics are served in Prometheus format while the
              pipeline runs.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.PersistentFlags()},
		},
		{
			name: "PreviewSize",
			usage: `
              PreviewSize is the width of preview images in pixels.`,
			defaultVal: 800,
			flagsets:   []*pflag.FlagSet{previewCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("TREECL")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
			case int:
				set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
			case []int:
				set.IntSliceP(option.name, option.shorthand, option.defaultVal.([]int), option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(describeCmd)
	Root.AddCommand(previewCmd)
	runCmd.AddCommand(runAllCmd)
	for _, s := range treecl.Stages {
		runCmd.AddCommand(stageCmd(s))
	}
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("treecl: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "treecl",
	Short: "Tree species critical loads of nitrogen and sulfur deposition.",
	Long: `treecl calculates, from species basal area and total deposition rasters,
where deposition exceeds the critical loads of tree species, how much
species growth and survival change in response to deposition, and the
deposition at which growth and survival decline by a given amount.
Use the subcommands specified below to access the model functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'TREECL_var' where 'var' is the
name of the variable to be set, with any '.' replaced by '_'.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of treecl.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("treecl v%s\n", treecl.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run pipeline stages.",
	Long: `run runs the stages of the critical-load pipeline. Use 'run all' to run
every stage in order, or the subcommands named after the stages to run a
single stage. Rasters that already exist in the workspace are not
recalculated, so an interrupted run can be restarted.`,
	DisableAutoGenTag: true,
}

var runAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Run all pipeline stages.",
	Long: `all runs every stage of the pipeline in order:
` + stageList(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, treecl.Stages...)
	},
	DisableAutoGenTag: true,
}

// stageCmd returns a command that runs stage s.
func stageCmd(s treecl.Stage) *cobra.Command {
	return &cobra.Command{
		Use:   s.Name,
		Short: "Run the " + s.Name + " stage.",
		Long:  s.Name + ": " + s.Description + ".",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, s)
		},
		DisableAutoGenTag: true,
	}
}

func stageList() string {
	var b strings.Builder
	for i, s := range treecl.Stages {
		fmt.Fprintf(&b, "\t%d. %s: %s\n", i+1, s.Name, s.Description)
	}
	return b.String()
}

var describeCmd = &cobra.Command{
	Use:   "describe container name",
	Short: "Describe a raster.",
	Long: `describe prints the geometry of the specified raster in the workspace
along with summary statistics of its cell values.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		ws, err := OpenWorkspace(ctx, nil)
		if err != nil {
			return err
		}
		defer ws.Close()
		return Describe(ctx, cmd.OutOrStdout(), ws, args[0], args[1])
	},
	DisableAutoGenTag: true,
}

var previewCmd = &cobra.Command{
	Use:   "preview container name output.png",
	Short: "Draw a map of a raster.",
	Long: `preview draws a heat map of the specified raster in the workspace
and saves it as a PNG image. No-data cells are transparent.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		ws, err := OpenWorkspace(ctx, nil)
		if err != nil {
			return err
		}
		defer ws.Close()
		g, err := ws.Read(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return SavePreview(args[2], g, args[0]+"/"+args[1], Cfg.GetInt("PreviewSize"))
	},
	DisableAutoGenTag: true,
}

// cmdContext returns the context of cmd, which is nil if the command is
// not being executed.
func cmdContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
