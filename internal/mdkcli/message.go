package mdkcli

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/suhailsaqan/mdk/callback"
	"github.com/suhailsaqan/mdk/mdkconfig"
	"github.com/suhailsaqan/mdk/message"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/nostrkind"
)

var (
	msgGroup string
	msgText  string
)

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Send and locally apply an application message",
	RunE:  runMessageSend,
}

func init() {
	messageCmd.Flags().StringVar(&msgGroup, "group", "", "nostr_group_id, hex-encoded")
	messageCmd.Flags().StringVar(&msgText, "text", "", "plaintext to encrypt and send")
}

// runMessageSend restores the group's last durable checkpoint,
// encrypts --text under the current epoch's secret, builds the
// resulting group-message event, and runs it straight back through
// message.Process — standing in for "publish to a relay, then receive
// it back," which mdkctl has no relay client to actually do.
func runMessageSend(cmd *cobra.Command, args []string) error {
	if msgText == "" {
		return fmt.Errorf("--text is required")
	}
	id, err := parseGroupIDHex(msgGroup)
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
	snap, ok, err := store.GetSnapshot(ctx, id, g.Epoch)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no durable checkpoint for group %x at epoch %d", id, g.Epoch)
	}
	gs, err := mlsengine.Restore(snap.Checkpoint)
	if err != nil {
		return fmt.Errorf("restore group state: %w", err)
	}

	ks := mlsengine.NewKeystore()
	cred, err := loadOrCreateIdentity(ks)
	if err != nil {
		return err
	}

	nonce, ciphertext, err := mlsengine.EncryptApplicationMessage(gs, []byte(msgText), gs.NostrGroupID[:])
	if err != nil {
		return fmt.Errorf("encrypt message: %w", err)
	}

	var eventID [32]byte
	if _, err := rand.Read(eventID[:]); err != nil {
		return err
	}
	event := &nostrkind.Event{
		ID:        eventID,
		PubKey:    cred.Identity,
		Kind:      nostrkind.KindGroupMessage,
		CreatedAt: time.Now().Unix(),
		Tags:      []nostrkind.Tag{{"h", fmt.Sprintf("%x", gs.NostrGroupID)}},
	}
	envelope := message.Envelope{RumorPubKey: cred.Identity, Nonce: nonce, Ciphertext: ciphertext}

	cfg := mdkconfig.DefaultConfig()
	result, err := message.Process(ctx, store, callback.NoOp{}, gs, event, envelope, nil, message.Config{
		MaxEventAge:       cfg.MaxEventAge,
		MaxFutureSkew:     cfg.MaxFutureSkew,
		SnapshotRetention: cfg.SnapshotRetention,
	})
	if err != nil {
		return fmt.Errorf("process message: %w", err)
	}
	fmt.Printf("outcome: %s\n", result.Outcome)
	fmt.Printf("event:   %x\n", event.ID)
	return nil
}
