package mdkcli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/suhailsaqan/mdk/group"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/storage"
)

var (
	groupName string
	groupID   string
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Create and inspect groups",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new solo group owned by this identity",
	RunE:  runGroupCreate,
}

var groupShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a stored group's metadata",
	RunE:  runGroupShow,
}

func init() {
	groupCreateCmd.Flags().StringVar(&groupName, "name", "", "group display name")
	groupShowCmd.Flags().StringVar(&groupID, "group", "", "nostr_group_id, hex-encoded")
	groupCmd.AddCommand(groupCreateCmd, groupShowCmd)
}

func runGroupCreate(cmd *cobra.Command, args []string) error {
	ctx := cmdContext()
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ks := mlsengine.NewKeystore()
	cred, err := loadOrCreateIdentity(ks)
	if err != nil {
		return err
	}

	result, err := group.Create(ctx, store, []byte(groupName), cred, nil, group.CreateConfig{
		Name:   groupName,
		Admins: [][32]byte{cred.Identity},
	})
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}

	checkpoint, err := mlsengine.Checkpoint(result.State)
	if err != nil {
		return fmt.Errorf("checkpoint new group: %w", err)
	}
	if err := store.SaveSnapshot(ctx, storage.EpochSnapshot{
		NostrGroupID: result.State.NostrGroupID,
		Epoch:        result.State.Epoch,
		Checkpoint:   checkpoint,
	}); err != nil {
		return fmt.Errorf("persist durable checkpoint: %w", err)
	}

	fmt.Printf("nostr_group_id: %x\n", result.State.NostrGroupID)
	fmt.Printf("epoch:          %d\n", result.State.Epoch)
	return nil
}

func runGroupShow(cmd *cobra.Command, args []string) error {
	id, err := parseGroupIDHex(groupID)
	if err != nil {
		return err
	}
	ctx := cmdContext()
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	g, ok, err := store.GetGroup(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no group with nostr_group_id %x", id)
	}
	fmt.Printf("name:        %s\n", g.Name)
	fmt.Printf("epoch:       %d\n", g.Epoch)
	fmt.Printf("state:       %s\n", g.State)
	fmt.Printf("admins:      %d\n", len(g.Admins))
	return nil
}
