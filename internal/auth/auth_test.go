package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Known digest vectors for the signed-hex rendering.
func TestServerIDHash(t *testing.T) {
	cases := []struct {
		serverID string
		want     string
	}{
		{"Notch", "4ed1f46bbe04bc756bcb17c0c7ce3e4632f06a48"},
		{"jeb_", "-7c9d5b0044c130109a5d7b5fb5c317c02b4e28c1"},
		{"simon", "88e16a1019277b15d58faf0541e11910eb756f6"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ServerIDHash(tc.serverID, nil, nil), "serverID %q", tc.serverID)
	}
}

func TestServerIDHashCoversSecretAndKey(t *testing.T) {
	a := ServerIDHash("", []byte{1, 2, 3}, []byte{4, 5, 6})
	b := ServerIDHash("", []byte{1, 2, 3}, []byte{4, 5, 7})
	assert.NotEqual(t, a, b)
}

func TestOfflineUUID(t *testing.T) {
	id := OfflineUUID("Alice")

	// Deterministic across calls.
	assert.Equal(t, id, OfflineUUID("Alice"))
	assert.NotEqual(t, id, OfflineUUID("alice"))

	// Name-based (version 3), RFC 4122 variant.
	assert.Equal(t, byte(0x30), id[6]&0xf0)
	assert.Equal(t, byte(0x80), id[8]&0xc0)
}

func TestSessionVerifierAccepts(t *testing.T) {
	var gotUsername, gotServerID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUsername = r.URL.Query().Get("username")
		gotServerID = r.URL.Query().Get("serverId")
		w.Write([]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"Notch"}`))
	}))
	defer srv.Close()

	v := NewSessionVerifier(srv.URL, 5*time.Second)
	profile, err := v.Verify(context.Background(), "Notch", []byte("0123456789abcdef"), []byte{0xDE, 0xAD})
	require.NoError(t, err)

	assert.Equal(t, "Notch", profile.Name)
	assert.Equal(t, "069a79f4-44e9-4726-a5be-fca90e38aaf5", profile.UUID.String())
	assert.Equal(t, "Notch", gotUsername)
	assert.Equal(t, ServerIDHash("", []byte("0123456789abcdef"), []byte{0xDE, 0xAD}), gotServerID)
}

func TestSessionVerifierRejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	v := NewSessionVerifier(srv.URL, 5*time.Second)
	_, err := v.Verify(context.Background(), "Notch", []byte("secret"), nil)
	assert.Error(t, err)
}

func TestSessionVerifierRejectsBadUUID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"not-a-uuid","name":"Notch"}`))
	}))
	defer srv.Close()

	v := NewSessionVerifier(srv.URL, 5*time.Second)
	_, err := v.Verify(context.Background(), "Notch", []byte("secret"), nil)
	assert.Error(t, err)
}
