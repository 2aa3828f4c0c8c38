package hushbox

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/LOME-AI/hushbox/internal/keycrypt"
)

func newTestService() *Service {
	return New(
		WithMemoryStore(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

// testMember is a user identity with its own ML-KEM keypair.
type testMember struct {
	id uuid.UUID
	kp *keycrypt.Keypair
}

func newTestMember(t *testing.T) *testMember {
	t.Helper()
	kp, err := keycrypt.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	return &testMember{id: uuid.New(), kp: kp}
}

func (m *testMember) ref() MemberRef { return UserRef(m.id) }

// convKeys tracks the epoch keypairs a test's clients would hold, so tests
// can build real rotations and walk real chain links.
type convKeys struct {
	current int64
	epochs  map[int64]*keycrypt.Keypair
}

func mustWrap(t *testing.T, secret, recipientPub []byte) []byte {
	t.Helper()
	wrap, err := keycrypt.Wrap(secret, recipientPub)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	return wrap
}

func encryptWithEpoch(t *testing.T, epochSecret, plaintext []byte) []byte {
	t.Helper()
	key, err := keycrypt.MessageKey(epochSecret)
	if err != nil {
		t.Fatalf("MessageKey() error = %v", err)
	}
	blob, err := keycrypt.Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	return blob
}

func decryptWithEpoch(t *testing.T, epochSecret, blob []byte) []byte {
	t.Helper()
	key, err := keycrypt.MessageKey(epochSecret)
	if err != nil {
		t.Fatalf("MessageKey() error = %v", err)
	}
	plain, err := keycrypt.Decrypt(key, blob)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	return plain
}

// createTestConversation seeds a conversation at epoch 1 owned by owner.
func createTestConversation(t *testing.T, svc *Service, owner *testMember) (*Conversation, *convKeys) {
	t.Helper()
	epochKP, err := keycrypt.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	conv, err := svc.CreateConversation(context.Background(), CreateConversationParams{
		OwnerUserID:      owner.id,
		OwnerPublicKey:   owner.kp.PublicKey,
		OwnerWrap:        mustWrap(t, epochKP.SecretKey, owner.kp.PublicKey),
		EncryptedTitle:   encryptWithEpoch(t, epochKP.SecretKey, []byte("planning")),
		EpochPublicKey:   epochKP.PublicKey,
		ConfirmationHash: keycrypt.ConfirmationHash(epochKP.PublicKey),
	})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	return conv, &convKeys{current: 1, epochs: map[int64]*keycrypt.Keypair{1: epochKP}}
}

// buildRotation computes a real epoch transition wrapping the new key for
// each given member public key. The caller advances keys after a successful
// submit.
func (k *convKeys) buildRotation(t *testing.T, memberPubs ...[]byte) (RotationRequest, *keycrypt.Keypair) {
	t.Helper()
	next, err := keycrypt.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	prev := k.epochs[k.current]
	wraps := make([]MemberWrap, len(memberPubs))
	for i, pub := range memberPubs {
		wraps[i] = MemberWrap{MemberPublicKey: pub, Wrap: mustWrap(t, next.SecretKey, pub)}
	}
	return RotationRequest{
		ExpectedEpoch:    k.current,
		EpochPublicKey:   next.PublicKey,
		ConfirmationHash: keycrypt.ConfirmationHash(next.PublicKey),
		ChainLink:        mustWrap(t, prev.SecretKey, next.PublicKey),
		EncryptedTitle:   encryptWithEpoch(t, next.SecretKey, []byte("planning")),
		Wraps:            wraps,
	}, next
}

func (k *convKeys) advance(next *keycrypt.Keypair) {
	k.current++
	k.epochs[k.current] = next
}

// rotate performs a full rotation wrapping for the given member keys.
func rotate(t *testing.T, svc *Service, convID uuid.UUID, actor MemberRef, keys *convKeys, memberPubs ...[]byte) int64 {
	t.Helper()
	req, next := keys.buildRotation(t, memberPubs...)
	newEpoch, err := svc.SubmitRotation(context.Background(), convID, actor, req)
	if err != nil {
		t.Fatalf("SubmitRotation() error = %v", err)
	}
	keys.advance(next)
	return newEpoch
}

// walkChain unwraps the current epoch key with the member's secret key and
// follows the chain links downward, returning every reachable epoch secret.
func walkChain(t *testing.T, chain *KeyChain, memberSecret []byte) map[int64][]byte {
	t.Helper()
	if len(chain.Wraps) != 1 {
		t.Fatalf("KeyChain.Wraps length = %d, want 1", len(chain.Wraps))
	}
	secrets := make(map[int64][]byte)
	current, err := keycrypt.Unwrap(chain.Wraps[0].Wrap, memberSecret)
	if err != nil {
		t.Fatalf("Unwrap(current wrap) error = %v", err)
	}
	secrets[chain.Wraps[0].EpochNumber] = current

	for _, link := range chain.ChainLinks {
		holder, ok := secrets[link.EpochNumber]
		if !ok {
			t.Fatalf("chain link for epoch %d not reachable from held keys", link.EpochNumber)
		}
		prev, err := keycrypt.Unwrap(link.Link, holder)
		if err != nil {
			t.Fatalf("Unwrap(chain link %d) error = %v", link.EpochNumber, err)
		}
		secrets[link.EpochNumber-1] = prev
	}
	return secrets
}
