package pionengine

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

const turnCredentialTTL = 6 * time.Hour

// generateTURNCredentials mints ephemeral TURN credentials using the TURN
// REST API (HMAC-SHA1) scheme compatible with coturn's use-auth-secret,
// adapted from the teacher's sfu.GenerateTURNCredentials.
func generateTURNCredentials(secret, connID string) (username, credential string) {
	expiry := time.Now().Add(turnCredentialTTL).Unix()
	username = fmt.Sprintf("%d:%s", expiry, connID)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	credential = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return
}

// iceServers builds the ICE server list every server-side PeerConnection is
// configured with, adapted from the teacher's sfu.BuildICEServers.
func (e *Engine) iceServers(connID string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if e.cfg.STUNURL != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{e.cfg.STUNURL}})
	}
	if e.cfg.TURNHost == "" {
		return servers
	}
	turnURL := fmt.Sprintf("turn:%s:%d", e.cfg.TURNHost, e.cfg.TURNPort)
	username, credential := generateTURNCredentials(e.cfg.TURNSecret, connID)
	return append(servers, webrtc.ICEServer{
		URLs:       []string{turnURL},
		Username:   username,
		Credential: credential,
	})
}
