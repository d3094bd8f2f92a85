package mdkcli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/suhailsaqan/mdk/keypackage"
	"github.com/suhailsaqan/mdk/mlsengine"
)

var (
	kpRelays    []string
	kpClient    string
	kpProtected bool
)

var keyPackageCmd = &cobra.Command{
	Use:   "keypackage",
	Short: "Build a key-package event for this identity",
	RunE:  runKeyPackage,
}

func init() {
	keyPackageCmd.Flags().StringSliceVar(&kpRelays, "relay", nil, "relay URL (repeatable)")
	keyPackageCmd.Flags().StringVar(&kpClient, "client", "mdkctl", "client tag value")
	keyPackageCmd.Flags().BoolVar(&kpProtected, "protected", false, "add the protected (\"-\") tag to the key-package event")
}

func runKeyPackage(cmd *cobra.Command, args []string) error {
	if len(kpRelays) == 0 {
		return fmt.Errorf("at least one --relay is required")
	}
	ks := mlsengine.NewKeystore()
	cred, err := loadOrCreateIdentity(ks)
	if err != nil {
		return err
	}

	b, err := keypackage.Build(ks, cred.Identity, kpRelays, kpClient, kpProtected)
	if err != nil {
		return err
	}
	fmt.Printf("identity:  %x\n", cred.Identity)
	fmt.Printf("kind:      443\n")
	fmt.Println("tags:")
	for _, tag := range b.Tags {
		fmt.Printf("  %v\n", []string(tag))
	}
	fmt.Printf("handle:    %x\n", b.Handle)
	fmt.Printf("body:      %d bytes (base64-encoded JSON KeyPackage)\n", len(b.EncodedBody))
	return nil
}
