package e2e

import (
	"chat-roulette/domain/protocol"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const readTimeout = 5 * time.Second

type BaseSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.ServerAddr == "" {
		s.T().Skip("CHAT_SERVER_ADDR not set")
	}
}

func (s *BaseSuite) header(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Peer is one websocket client of the server.
type Peer struct {
	s    *BaseSuite
	name string
	ws   *websocket.Conn
}

func (s *BaseSuite) Connect(name string) *Peer {
	s.header("connect " + name)
	u := url.URL{
		Scheme:   "ws",
		Host:     s.Config.ServerAddr,
		Path:     "/v1/chat/connect",
		RawQuery: url.Values{"userName": {name}}.Encode(),
	}
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	s.Require().NoError(err, "Failed to connect to "+u.String())
	s.T().Cleanup(func() { _ = ws.Close() })
	return &Peer{s: s, name: name, ws: ws}
}

func (p *Peer) Send(kind protocol.InboundType, content string) {
	frame := map[string]string{"type": string(kind)}
	if content != "" {
		frame["content"] = content
	}
	p.s.Require().NoError(p.ws.WriteJSON(frame))
}

// Next reads the next frame, failing the test after readTimeout.
func (p *Peer) Next() protocol.Outbound {
	p.s.Require().NoError(p.ws.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := p.ws.ReadMessage()
	p.s.Require().NoError(err, p.name+" did not receive a frame")
	var out protocol.Outbound
	p.s.Require().NoError(json.Unmarshal(data, &out))
	p.s.T().Logf("%s <- %s", p.name, data)
	return out
}

// Expect skips frames until one of kind arrives.
// Typing notices and waiting statuses may interleave with what a step cares about.
func (p *Peer) Expect(kind protocol.OutboundType) protocol.Outbound {
	for {
		out := p.Next()
		if out.Type == kind {
			return out
		}
	}
}

func (p *Peer) Close() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = p.ws.WriteMessage(websocket.CloseMessage, msg)
	_ = p.ws.Close()
}

// WithGrpc provides a connection to the ops server within a contextual test step.
func (s *BaseSuite) WithGrpc(name string, fn func(ctx context.Context, conn *grpc.ClientConn)) {
	if s.Config.GrpcAddr == "" {
		s.T().Skip("CHAT_GRPC_ADDR not set")
	}
	s.header(name)
	conn, err := grpc.NewClient(s.Config.GrpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.GrpcAddr)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, conn)
}
