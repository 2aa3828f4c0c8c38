package hushbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/LOME-AI/hushbox/internal/store"
)

func TestSubmitRotation_AdvancesByOne(t *testing.T) {
	svc := newTestService()
	owner := newTestMember(t)
	conv, keys := createTestConversation(t, svc, owner)
	ctx := context.Background()

	for want := int64(2); want <= 4; want++ {
		got := rotate(t, svc, conv.ID, owner.ref(), keys, owner.kp.PublicKey)
		if got != want {
			t.Fatalf("rotation %d: epoch = %d, want %d", want-1, got, want)
		}
	}

	fresh, err := svc.GetConversation(ctx, conv.ID, owner.ref())
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if fresh.CurrentEpoch != 4 {
		t.Errorf("CurrentEpoch = %d, want 4", fresh.CurrentEpoch)
	}
	if fresh.TitleEpochNumber != 4 {
		t.Errorf("TitleEpochNumber = %d, want 4", fresh.TitleEpochNumber)
	}
}

func TestSubmitRotation_StaleEpoch(t *testing.T) {
	svc := newTestService()
	owner := newTestMember(t)
	conv, keys := createTestConversation(t, svc, owner)
	ctx := context.Background()

	rotate(t, svc, conv.ID, owner.ref(), keys, owner.kp.PublicKey)

	// A request computed against epoch 1 arrives after the rotation to 2.
	stale, _ := keys.buildRotation(t, owner.kp.PublicKey)
	stale.ExpectedEpoch = 1
	_, err := svc.SubmitRotation(ctx, conv.ID, owner.ref(), stale)
	if !errors.Is(err, ErrStaleEpoch) {
		t.Fatalf("SubmitRotation() error = %v, want ErrStaleEpoch", err)
	}
	var staleErr *StaleEpochError
	if !errors.As(err, &staleErr) {
		t.Fatalf("error type = %T, want *StaleEpochError", err)
	}
	if staleErr.Expected != 1 || staleErr.Current != 2 {
		t.Errorf("StaleEpochError = {%d %d}, want {1 2}", staleErr.Expected, staleErr.Current)
	}

	// Failure is repeatable: re-submitting the identical request fails the
	// same way and leaves no trace.
	_, err = svc.SubmitRotation(ctx, conv.ID, owner.ref(), stale)
	if !errors.Is(err, ErrStaleEpoch) {
		t.Fatalf("resubmit error = %v, want ErrStaleEpoch", err)
	}
	fresh, err := svc.GetConversation(ctx, conv.ID, owner.ref())
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if fresh.CurrentEpoch != 2 {
		t.Errorf("CurrentEpoch = %d, want 2", fresh.CurrentEpoch)
	}
}

func TestSubmitRotation_ConcurrentFirstWriteWins(t *testing.T) {
	svc := newTestService()
	owner := newTestMember(t)
	conv, keys := createTestConversation(t, svc, owner)
	ctx := context.Background()

	const racers = 8
	reqs := make([]RotationRequest, racers)
	for i := range reqs {
		reqs[i], _ = keys.buildRotation(t, owner.kp.PublicKey)
	}

	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.SubmitRotation(ctx, conv.ID, owner.ref(), reqs[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrStaleEpoch):
		default:
			t.Fatalf("unexpected error = %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	fresh, err := svc.GetConversation(ctx, conv.ID, owner.ref())
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if fresh.CurrentEpoch != 2 {
		t.Errorf("CurrentEpoch = %d, want 2", fresh.CurrentEpoch)
	}
}

func TestSubmitRotation_Validation(t *testing.T) {
	svc := newTestService()
	owner := newTestMember(t)
	conv, keys := createTestConversation(t, svc, owner)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*RotationRequest)
	}{
		{"missing chain link", func(r *RotationRequest) { r.ChainLink = nil }},
		{"missing confirmation hash", func(r *RotationRequest) { r.ConfirmationHash = nil }},
		{"short epoch public key", func(r *RotationRequest) { r.EpochPublicKey = []byte("short") }},
		{"empty wrap set", func(r *RotationRequest) { r.Wraps = nil }},
		{"duplicate wrap", func(r *RotationRequest) { r.Wraps = append(r.Wraps, r.Wraps[0]) }},
		{"empty wrap payload", func(r *RotationRequest) { r.Wraps[0].Wrap = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := keys.buildRotation(t, owner.kp.PublicKey)
			tt.mutate(&req)
			_, err := svc.SubmitRotation(ctx, conv.ID, owner.ref(), req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
		})
	}

	// Nothing committed by any rejected request.
	fresh, err := svc.GetConversation(ctx, conv.ID, owner.ref())
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if fresh.CurrentEpoch != 1 {
		t.Errorf("CurrentEpoch = %d, want 1", fresh.CurrentEpoch)
	}
}

func TestSubmitRotation_WrapSetMustMatchMembership(t *testing.T) {
	svc := newTestService()
	owner := newTestMember(t)
	stranger := newTestMember(t)
	conv, keys := createTestConversation(t, svc, owner)
	ctx := context.Background()

	// Surplus wrap for a non-member key.
	req, _ := keys.buildRotation(t, owner.kp.PublicKey, stranger.kp.PublicKey)
	_, err := svc.SubmitRotation(ctx, conv.ID, owner.ref(), req)
	if !errors.Is(err, ErrMembershipSnapshot) {
		t.Fatalf("surplus wrap error = %v, want ErrMembershipSnapshot", err)
	}

	// Missing wrap for a present member.
	req2, _ := keys.buildRotation(t, stranger.kp.PublicKey)
	_, err = svc.SubmitRotation(ctx, conv.ID, owner.ref(), req2)
	if !errors.Is(err, ErrMembershipSnapshot) {
		t.Fatalf("missing wrap error = %v, want ErrMembershipSnapshot", err)
	}
}

func TestSubmitRotation_NonMember(t *testing.T) {
	svc := newTestService()
	owner := newTestMember(t)
	stranger := newTestMember(t)
	conv, keys := createTestConversation(t, svc, owner)

	req, _ := keys.buildRotation(t, owner.kp.PublicKey)
	_, err := svc.SubmitRotation(context.Background(), conv.ID, stranger.ref(), req)
	if !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("SubmitRotation() error = %v, want ErrMemberNotFound", err)
	}
}

// vanishOnCommitStore simulates the conversation being deleted while a
// rotation commit is in flight: the commit loses the race and the re-read
// finds nothing.
type vanishOnCommitStore struct {
	store.Store
}

func (s *vanishOnCommitStore) CommitRotation(ctx context.Context, commit *store.RotationCommit) (int64, error) {
	if err := s.Store.DeleteConversation(ctx, commit.ConversationID); err != nil {
		return 0, err
	}
	return 0, store.ErrStaleEpoch
}

func TestSubmitRotation_DeletedConversationReportsNotFound(t *testing.T) {
	vanish := &vanishOnCommitStore{Store: store.NewMem()}
	svc := New(
		WithStore(vanish),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	owner := newTestMember(t)
	conv, keys := createTestConversation(t, svc, owner)

	req, _ := keys.buildRotation(t, owner.kp.PublicKey)
	_, err := svc.SubmitRotation(context.Background(), conv.ID, owner.ref(), req)
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("SubmitRotation() error = %v, want ErrConversationNotFound", err)
	}
	var stale *StaleEpochError
	if errors.As(err, &stale) {
		t.Fatalf("SubmitRotation() error = %v, want no stale-epoch report for a deleted conversation", err)
	}
}
