package main

import (
	"bufio"
	"chat-roulette/domain/protocol"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
)

type Config struct {
	ServerAddr string `env:"CHAT_SERVER_ADDR,default=localhost:8787"`
	UserName   string `env:"CHAT_USER_NAME"`
	UserID     string `env:"CHAT_USER_ID"`
}

const usage = "Commands: /roll for a new partner, /leave to stop chatting, /quit to exit"

// A terminal client for the roulette.
func main() {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	if err := run(config); err != nil {
		fmt.Fprintf(os.Stderr, "Client terminated with error: %v\n", err)
		os.Exit(1)
	}
}

func run(config Config) error {
	ws, _, err := websocket.DefaultDialer.Dial(connectURL(config), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", config.ServerAddr, err)
	}
	defer ws.Close()

	color.Gray.Println(usage)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				color.Red.Println("Connection closed:", err)
				return
			}
			var out protocol.Outbound
			if err := json.Unmarshal(data, &out); err != nil {
				continue
			}
			if line := render(out); line != "" {
				fmt.Println(line)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-closed:
			return nil
		case <-signals:
			return closeGracefully(ws)
		case line, ok := <-lines:
			if !ok {
				return closeGracefully(ws)
			}
			frame, quit := command(line)
			if quit {
				return closeGracefully(ws)
			}
			if frame == nil {
				continue
			}
			if err := ws.WriteJSON(frame); err != nil {
				return err
			}
		}
	}
}

func connectURL(config Config) string {
	query := url.Values{}
	if config.UserName != "" {
		query.Set("userName", config.UserName)
	}
	if config.UserID != "" {
		query.Set("userId", config.UserID)
	}
	u := url.URL{Scheme: "ws", Host: config.ServerAddr, Path: "/v1/chat/connect", RawQuery: query.Encode()}
	return u.String()
}

// command turns one typed line into a frame, nil when there is nothing to send.
func command(line string) (frame map[string]string, quit bool) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return nil, false
	case "/quit":
		return nil, true
	case "/roll":
		return map[string]string{"type": string(protocol.InboundRoll)}, false
	case "/leave":
		return map[string]string{"type": string(protocol.InboundLeave)}, false
	case "/typing":
		return map[string]string{"type": string(protocol.InboundTyping)}, false
	}
	return map[string]string{"type": string(protocol.InboundMessage), "content": line}, false
}

func render(out protocol.Outbound) string {
	switch out.Type {
	case protocol.OutboundStatus:
		return color.Gray.Sprint(out.Message)
	case protocol.OutboundRoomJoined:
		return color.Green.Sprint(out.Message)
	case protocol.OutboundMessage:
		return fmt.Sprintf("%s %s", color.Cyan.Sprintf("%s:", out.UserName), out.Content)
	case protocol.OutboundTyping:
		return color.Gray.Sprint("partner is typing...")
	case protocol.OutboundPartnerLeft, protocol.OutboundPartnerDisconnected:
		return color.Yellow.Sprint(out.Message)
	case protocol.OutboundError:
		return color.Red.Sprint(out.Message)
	}
	return ""
}

func closeGracefully(ws *websocket.Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return ws.WriteMessage(websocket.CloseMessage, msg)
}
