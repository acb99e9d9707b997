// Command handshake-demo carries a live PKI-DH handshake between two
// local plugin instances over a loopback WebSocket connection, standing
// in for the RTPS transport an actual DDS implementation would use.
// Run one copy with -role=listener and a second with -role=connector
// pointed at the first's -listen address.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/shadowmesh/ddsauth/pkg/config"
	"github.com/shadowmesh/ddsauth/pkg/handshake"
	"github.com/shadowmesh/ddsauth/pkg/identity"
	"github.com/shadowmesh/ddsauth/pkg/logging"
	"github.com/shadowmesh/ddsauth/pkg/plugin"
	"github.com/shadowmesh/ddsauth/pkg/registry"
	"github.com/shadowmesh/ddsauth/pkg/wire"
)

// envelope is the one message shape exchanged over the demo's
// WebSocket connection: an identity announcement, or one of the three
// handshake tokens.
type envelope struct {
	Kind          string                 `json:"kind"`
	GUIDPrefix    identity.GUIDPrefix    `json:"guid_prefix,omitempty"`
	IdentityToken identity.IdentityToken `json:"identity_token,omitempty"`
	Token         *wire.Token            `json:"token,omitempty"`
}

func main() {
	role := flag.String("role", "", "listener or connector")
	listenAddr := flag.String("listen", "127.0.0.1:7443", "address to listen on (listener role)")
	peerAddr := flag.String("peer", "127.0.0.1:7443", "address to dial (connector role)")
	configPath := flag.String("config", "ddsauth.yaml", "path to this participant's YAML configuration")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := logging.NewLogger("handshake-demo", logging.ParseLevel(cfg.Logging.Level), cfg.Logging.OutputFile)
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	logger.SetMaxFileSize(int64(cfg.Logging.MaxSizeMB) * 1024 * 1024)
	logger.SetMaxBackups(cfg.Logging.MaxBackups)

	p := plugin.New(logger, nil)
	localHandle, adjusted, err := p.ValidateLocalIdentity(cfg.Identity.QoSProperties(), cfg.Identity.DomainID, identity.GUID{})
	if err != nil {
		log.Fatalf("validate-local-identity: %v", err)
	}
	localToken, err := p.GetIdentityToken(localHandle)
	if err != nil {
		log.Fatalf("get-identity-token: %v", err)
	}

	switch *role {
	case "listener":
		runListener(p, localHandle, adjusted, localToken, *listenAddr)
	case "connector":
		runConnector(p, localHandle, adjusted, localToken, *peerAddr)
	default:
		log.Fatalf("-role must be \"listener\" or \"connector\"")
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// runListener waits for one connector, completes the responder side of
// the handshake, and exits.
func runListener(p *plugin.AuthenticationPlugin, localHandle registry.Handle, adjusted identity.GUID, localToken identity.IdentityToken, addr string) {
	done := make(chan struct{})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		defer close(done)

		if err := respond(p, localHandle, adjusted, localToken, conn); err != nil {
			log.Printf("handshake failed: %v", err)
			return
		}
	})

	log.Printf("listening on %s", addr)
	server := &http.Server{Addr: addr}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("server error: %v", err)
		}
	}()

	<-done
}

// runConnector dials a listener and completes the initiator side of the
// handshake.
func runConnector(p *plugin.AuthenticationPlugin, localHandle registry.Handle, adjusted identity.GUID, localToken identity.IdentityToken, addr string) {
	url := fmt.Sprintf("ws://%s/", addr)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := request(p, localHandle, adjusted, localToken, conn); err != nil {
		log.Fatalf("handshake failed: %v", err)
	}
}

func readEnvelope(conn *websocket.Conn) (envelope, error) {
	var env envelope
	_, data, err := conn.ReadMessage()
	if err != nil {
		return envelope{}, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return env, nil
}

func writeEnvelope(conn *websocket.Conn, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// request runs the initiator side: announce identity, exchange identity
// tokens, send the handshake Request, and process the Reply into a
// completed shared secret.
func request(p *plugin.AuthenticationPlugin, localHandle registry.Handle, adjusted identity.GUID, localToken identity.IdentityToken, conn *websocket.Conn) error {
	if err := writeEnvelope(conn, envelope{Kind: "identity", GUIDPrefix: adjusted.Prefix, IdentityToken: localToken}); err != nil {
		return err
	}
	peerIdentity, err := readEnvelope(conn)
	if err != nil {
		return err
	}

	remoteHandle, _, _, err := p.ValidateRemoteIdentity(localHandle, nil, peerIdentity.IdentityToken, peerIdentity.GUIDPrefix)
	if err != nil {
		return fmt.Errorf("validate-remote-identity: %w", err)
	}

	hsHandle, reqToken, err := p.BeginHandshakeRequest(localHandle, remoteHandle, []byte("handshake-demo pdata"))
	if err != nil {
		return fmt.Errorf("begin-handshake-request: %w", err)
	}
	if err := writeEnvelope(conn, envelope{Kind: "request", Token: reqToken}); err != nil {
		return err
	}

	replyEnv, err := readEnvelope(conn)
	if err != nil {
		return err
	}
	finalToken, outcome, err := p.ProcessHandshake(hsHandle, replyEnv.Token)
	if err != nil {
		return fmt.Errorf("process-handshake (reply): %w", err)
	}
	if outcome != handshake.OutcomeOkFinal {
		return fmt.Errorf("unexpected outcome after reply: %v", outcome)
	}
	if err := writeEnvelope(conn, envelope{Kind: "final", Token: finalToken}); err != nil {
		return err
	}

	secretHandle, err := p.GetSharedSecret(hsHandle)
	if err != nil {
		return fmt.Errorf("get-shared-secret: %w", err)
	}
	secret, err := p.SharedSecretBytes(secretHandle)
	if err != nil {
		return err
	}
	fmt.Printf("initiator: handshake complete, shared secret %x\n", secret)
	return nil
}

// respond runs the responder side: exchange identity tokens, reply to
// the inbound Request, and process the Final into a completed shared
// secret.
func respond(p *plugin.AuthenticationPlugin, localHandle registry.Handle, adjusted identity.GUID, localToken identity.IdentityToken, conn *websocket.Conn) error {
	peerIdentity, err := readEnvelope(conn)
	if err != nil {
		return err
	}
	if err := writeEnvelope(conn, envelope{Kind: "identity", GUIDPrefix: adjusted.Prefix, IdentityToken: localToken}); err != nil {
		return err
	}

	remoteHandle, _, _, err := p.ValidateRemoteIdentity(localHandle, nil, peerIdentity.IdentityToken, peerIdentity.GUIDPrefix)
	if err != nil {
		return fmt.Errorf("validate-remote-identity: %w", err)
	}

	reqEnv, err := readEnvelope(conn)
	if err != nil {
		return err
	}
	hsHandle, replyToken, err := p.BeginHandshakeReply(localHandle, remoteHandle, []byte("handshake-demo pdata"), reqEnv.Token)
	if err != nil {
		return fmt.Errorf("begin-handshake-reply: %w", err)
	}
	if err := writeEnvelope(conn, envelope{Kind: "reply", Token: replyToken}); err != nil {
		return err
	}

	finalEnv, err := readEnvelope(conn)
	if err != nil {
		return err
	}
	_, outcome, err := p.ProcessHandshake(hsHandle, finalEnv.Token)
	if err != nil {
		return fmt.Errorf("process-handshake (final): %w", err)
	}
	if outcome != handshake.OutcomeOk {
		return fmt.Errorf("unexpected outcome after final: %v", outcome)
	}

	secretHandle, err := p.GetSharedSecret(hsHandle)
	if err != nil {
		return fmt.Errorf("get-shared-secret: %w", err)
	}
	secret, err := p.SharedSecretBytes(secretHandle)
	if err != nil {
		return err
	}
	fmt.Printf("responder: handshake complete, shared secret %x\n", secret)
	return nil
}
