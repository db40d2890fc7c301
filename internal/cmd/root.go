package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	"github.com/s-hammon/patgen/internal/config"
	"github.com/s-hammon/patgen/internal/gen"
	"github.com/s-hammon/patgen/internal/image"
	"github.com/s-hammon/patgen/internal/scan"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "patgen",
	Short:         "resolve byte patterns in a target binary and generate address headers",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}

		cfg, err := config.Load(viper.GetString("patterns"))
		if err != nil {
			return fmt.Errorf("load patterns: %v", err)
		}

		acc, closer, err := openImage()
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}

		return gen.New(scan.New(acc), cfg).Run(viper.GetString("out"))
	},
}

// openImage picks the image source: an on-disk PE wins, then an
// explicit pid, then a process name lookup.
func openImage() (image.Accessor, io.Closer, error) {
	if file := viper.GetString("file"); file != "" {
		buf, err := image.OpenPE(file)
		return buf, nil, err
	}

	pid := viper.GetInt("pid")
	if pid == 0 {
		name := viper.GetString("process")
		if name == "" {
			return nil, nil, errors.New("one of --file, --pid or --process is required")
		}

		var err error
		pid, err = image.FindPidBySubstring(name)
		if err != nil {
			return nil, nil, err
		}
	}

	log.WithField("pid", pid).Debug("attaching")
	proc, err := image.OpenProcess(pid)
	if err != nil {
		return nil, nil, err
	}

	return proc, proc, nil
}

func init() {
	log.SetHandler(clihander.Default)

	rootCmd.Flags().StringP("patterns", "p", "patterns.json", "pattern definition file")
	rootCmd.Flags().StringP("out", "o", ".", "directory to write generated headers to")
	rootCmd.Flags().String("file", "", "scan an on-disk PE instead of a live process")
	rootCmd.Flags().Int("pid", 0, "pid of the target process")
	rootCmd.Flags().String("process", "", "substring of the target process name")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "verbose logging")
	viper.BindPFlags(rootCmd.Flags())
	viper.BindPFlags(rootCmd.PersistentFlags())
}

func Execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error(err.Error())
		return 1
	}

	return 0
}
