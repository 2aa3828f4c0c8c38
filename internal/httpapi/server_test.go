package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/LOME-AI/hushbox"
	"github.com/LOME-AI/hushbox/internal/keycrypt"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := hushbox.New(hushbox.WithMemoryStore(), hushbox.WithLogger(logger))
	return New(svc, logger).Handler()
}

type testClient struct {
	t       *testing.T
	handler http.Handler
	userID  uuid.UUID
	kp      *keycrypt.Keypair
}

func newTestClient(t *testing.T, handler http.Handler) *testClient {
	t.Helper()
	kp, err := keycrypt.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	return &testClient{t: t, handler: handler, userID: uuid.New(), kp: kp}
}

func (c *testClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(headerUserID, c.userID.String())
	req.Header.Set(headerMemberKey, keycrypt.ToBase64URL(c.kp.PublicKey))
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

// createConversation drives the HTTP surface end to end with real key
// material and returns the epoch 1 keypair alongside the response.
func (c *testClient) createConversation(t *testing.T) (conversationResponse, *keycrypt.Keypair) {
	t.Helper()
	epochKP, err := keycrypt.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	ownerWrap, err := keycrypt.Wrap(epochKP.SecretKey, c.kp.PublicKey)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	rec := c.do(http.MethodPost, "/conversations", createConversationPayload{
		OwnerPublicKey:   keycrypt.ToBase64URL(c.kp.PublicKey),
		OwnerWrap:        keycrypt.ToBase64URL(ownerWrap),
		EncryptedTitle:   keycrypt.ToBase64URL([]byte("ct")),
		EpochPublicKey:   keycrypt.ToBase64URL(epochKP.PublicKey),
		ConfirmationHash: keycrypt.ToBase64URL(keycrypt.ConfirmationHash(epochKP.PublicKey)),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create conversation status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[conversationResponse](t, rec), epochKP
}

func (c *testClient) rotationPayload(t *testing.T, expected int64, prev *keycrypt.Keypair) (rotationPayload, *keycrypt.Keypair) {
	t.Helper()
	next, err := keycrypt.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	link, err := keycrypt.Wrap(prev.SecretKey, next.PublicKey)
	if err != nil {
		t.Fatalf("Wrap(chain link) error = %v", err)
	}
	wrap, err := keycrypt.Wrap(next.SecretKey, c.kp.PublicKey)
	if err != nil {
		t.Fatalf("Wrap(member) error = %v", err)
	}
	return rotationPayload{
		ExpectedEpoch:    expected,
		EpochPublicKey:   keycrypt.ToBase64URL(next.PublicKey),
		ConfirmationHash: keycrypt.ToBase64URL(keycrypt.ConfirmationHash(next.PublicKey)),
		ChainLink:        keycrypt.ToBase64URL(link),
		EncryptedTitle:   keycrypt.ToBase64URL([]byte("ct2")),
		Wraps: []wrapPayload{{
			MemberPublicKey: keycrypt.ToBase64URL(c.kp.PublicKey),
			Wrap:            keycrypt.ToBase64URL(wrap),
		}},
	}, next
}

func TestHTTPRotationFlow(t *testing.T) {
	handler := newTestServer(t)
	owner := newTestClient(t, handler)

	conv, epoch1 := owner.createConversation(t)
	if conv.CurrentEpoch != 1 {
		t.Fatalf("CurrentEpoch = %d, want 1", conv.CurrentEpoch)
	}
	base := "/conversations/" + conv.ID.String()

	payload, _ := owner.rotationPayload(t, 1, epoch1)
	rec := owner.do(http.MethodPost, base+"/rotations", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotation status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[epochResponse](t, rec)
	if resp.NewEpochNumber != 2 {
		t.Fatalf("NewEpochNumber = %d, want 2", resp.NewEpochNumber)
	}

	// The same expected epoch again: conflict carrying both numbers.
	stalePayload, _ := owner.rotationPayload(t, 1, epoch1)
	rec = owner.do(http.MethodPost, base+"/rotations", stalePayload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale rotation status = %d, want 409", rec.Code)
	}
	conflict := decodeBody[errorResponse](t, rec)
	if conflict.ExpectedEpoch != 1 || conflict.CurrentEpoch != 2 {
		t.Errorf("conflict = {%d %d}, want {1 2}", conflict.ExpectedEpoch, conflict.CurrentEpoch)
	}

	// Malformed rotation: 400.
	broken, _ := owner.rotationPayload(t, 2, epoch1)
	broken.ChainLink = ""
	rec = owner.do(http.MethodPost, base+"/rotations", broken)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed rotation status = %d, want 400", rec.Code)
	}
}

func TestHTTPKeyChainAndMessages(t *testing.T) {
	handler := newTestServer(t)
	owner := newTestClient(t, handler)

	conv, epoch1 := owner.createConversation(t)
	base := "/conversations/" + conv.ID.String()

	payload, epoch2 := owner.rotationPayload(t, 1, epoch1)
	if rec := owner.do(http.MethodPost, base+"/rotations", payload); rec.Code != http.StatusOK {
		t.Fatalf("rotation status = %d", rec.Code)
	}

	rec := owner.do(http.MethodGet, base+"/keychain", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("keychain status = %d, body %s", rec.Code, rec.Body.String())
	}
	chain := decodeBody[keyChainResponse](t, rec)
	if chain.CurrentEpoch != 2 || len(chain.Wraps) != 1 || len(chain.ChainLinks) != 1 {
		t.Fatalf("keychain = %+v, want current 2, one wrap, one link", chain)
	}

	// Unwrap over the wire data and confirm it is epoch 2's secret key.
	wrapRaw, err := keycrypt.FromBase64URL(chain.Wraps[0].Wrap)
	if err != nil {
		t.Fatalf("decode wrap: %v", err)
	}
	secret, err := keycrypt.Unwrap(wrapRaw, owner.kp.SecretKey)
	if err != nil {
		t.Fatalf("Unwrap() error = %v", err)
	}
	if !bytes.Equal(secret, epoch2.SecretKey) {
		t.Error("unwrapped secret does not match the rotated epoch key")
	}

	// Send and list a message.
	key, err := keycrypt.MessageKey(epoch2.SecretKey)
	if err != nil {
		t.Fatalf("MessageKey() error = %v", err)
	}
	blob, err := keycrypt.Encrypt(key, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	rec = owner.do(http.MethodPost, base+"/messages", sendMessagePayload{
		EncryptedBlob: keycrypt.ToBase64URL(blob),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status = %d, body %s", rec.Code, rec.Body.String())
	}
	sent := decodeBody[messageResponse](t, rec)
	if sent.EpochNumber != 2 || sent.SequenceNumber != 1 {
		t.Errorf("message stamps = {%d %d}, want {2 1}", sent.EpochNumber, sent.SequenceNumber)
	}

	rec = owner.do(http.MethodGet, base+"/messages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	listed := decodeBody[[]messageResponse](t, rec)
	if len(listed) != 1 {
		t.Fatalf("messages length = %d, want 1", len(listed))
	}
}

func TestHTTPAuthorization(t *testing.T) {
	handler := newTestServer(t)
	owner := newTestClient(t, handler)
	conv, _ := owner.createConversation(t)
	base := "/conversations/" + conv.ID.String()

	// No identity header at all.
	req := httptest.NewRequest(http.MethodGet, base, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing identity status = %d, want 403", rec.Code)
	}

	// A non-member sees not-found, not forbidden.
	stranger := newTestClient(t, handler)
	if rec := stranger.do(http.MethodGet, base, nil); rec.Code != http.StatusNotFound {
		t.Errorf("stranger status = %d, want 404", rec.Code)
	}
	if rec := stranger.do(http.MethodGet, base+"/keychain", nil); rec.Code != http.StatusNotFound {
		t.Errorf("stranger keychain status = %d, want 404", rec.Code)
	}
}

func TestHTTPOwnerLeaveDeletesConversation(t *testing.T) {
	handler := newTestServer(t)
	owner := newTestClient(t, handler)
	conv, _ := owner.createConversation(t)
	base := "/conversations/" + conv.ID.String()

	// The owner leaving deletes the conversation; there is no new epoch to
	// report, so the response carries no body.
	rec := owner.do(http.MethodPost, base+"/leave", struct{}{})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("owner leave status = %d, body %s, want 204", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Errorf("owner leave body = %q, want empty", rec.Body.String())
	}

	if rec := owner.do(http.MethodGet, base, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted conversation status = %d, want 404", rec.Code)
	}
}
