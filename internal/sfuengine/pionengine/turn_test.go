package pionengine

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestGenerateTURNCredentialsUsernameEncodesExpiry(t *testing.T) {
	before := time.Now().Add(turnCredentialTTL).Unix()
	username, credential := generateTURNCredentials("s3cr3t", "conn1")
	after := time.Now().Add(turnCredentialTTL).Unix()

	parts := strings.SplitN(username, ":", 2)
	if len(parts) != 2 {
		t.Fatalf("expected username of form <expiry>:<conn_id>, got %q", username)
	}
	if parts[1] != "conn1" {
		t.Fatalf("expected connection id suffix conn1, got %q", parts[1])
	}
	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		t.Fatalf("expected numeric expiry prefix: %v", err)
	}
	if expiry < before || expiry > after {
		t.Fatalf("expiry %d outside expected window [%d, %d]", expiry, before, after)
	}
	if credential == "" {
		t.Fatal("expected non-empty credential")
	}
}

func TestTURNCredentialVerifiesAgainstHMAC(t *testing.T) {
	username, credential := generateTURNCredentials("s3cr3t", "conn1")

	mac := hmac.New(sha1.New, []byte("s3cr3t"))
	mac.Write([]byte(username))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if credential != want {
		t.Fatalf("credential does not verify against HMAC-SHA1(secret, username): got %q want %q", credential, want)
	}

	mac2 := hmac.New(sha1.New, []byte("wrong-secret"))
	mac2.Write([]byte(username))
	wrong := base64.StdEncoding.EncodeToString(mac2.Sum(nil))
	if credential == wrong {
		t.Fatal("credential should not verify against a different secret")
	}
}
