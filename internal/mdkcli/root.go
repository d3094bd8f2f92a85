// Package mdkcli implements the mdkctl command-line interface using
// Cobra, in the style of the teacher's own cli package for the git
// clean/smudge filter: each subcommand runs one operation, calling the
// core packages directly rather than through a *mdk.Core.
package mdkcli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suhailsaqan/mdk/mdk"
	"github.com/suhailsaqan/mdk/mdkconfig"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/storage"
	"github.com/suhailsaqan/mdk/storage/pgstore"
)

var dsn string

var rootCmd = &cobra.Command{
	Use:   "mdkctl",
	Short: "Inspect and drive an mdk core from the command line",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (required; mdkctl has no in-process persistence across invocations)")
	rootCmd.AddCommand(keyPackageCmd, groupCmd, messageCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func openStore() (*pgstore.Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("--dsn is required")
	}
	return pgstore.Open(cmdContext(), dsn)
}

func newCore(store storage.Storage) (*mdk.Core, error) {
	return mdk.New(store, mlsengine.NewKeystore(), mdkconfig.DefaultConfig(), nil, zap.NewNop())
}
