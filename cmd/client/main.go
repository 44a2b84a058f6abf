package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/matst80/husky/internal/proto"
)

var errNotReady = errors.New("server is not accepting connections")

func main() {
	flag.Parse()
	if cfg.User == "" {
		log.Fatal("-user is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HTTPBase != "" {
		if err := preconnect(ctx, http.DefaultClient, cfg.HTTPBase); err != nil {
			log.Fatalf("preconnect: %v", err)
		}
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.Timeout}
	ws, _, err := dialer.DialContext(ctx, "ws://"+cfg.ServerAddr+"/", nil)
	if err != nil {
		log.Fatalf("dial %s: %v", cfg.ServerAddr, err)
	}
	defer ws.Close()
	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(cfg.authPayload())); err != nil {
		log.Fatalf("auth: %v", err)
	}
	go readLoop(ws, os.Stdout)

	if err := commandLoop(os.Stdin, ws); err != nil && ctx.Err() == nil {
		log.Printf("session ended: %v", err)
	}
}

// preconnect asks the HTTP side whether the relay is up. Only an exact "Ok" counts.
func preconnect(ctx context.Context, hc *http.Client, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/preconnect.php", nil)
	if err != nil {
		return err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK || string(body) != "Ok" {
		return fmt.Errorf("%w (status %d)", errNotReady, resp.StatusCode)
	}
	return nil
}

type textWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// commandLoop turns stdin lines into relay commands until /quit or EOF.
func commandLoop(in io.Reader, ws textWriter) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		payload, quit := parseCommand(sc.Text())
		if payload == nil {
			continue
		}
		if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
	return sc.Err()
}

// parseCommand maps one input line to a payload. A nil payload means nothing to send.
func parseCommand(line string) (payload []byte, quit bool) {
	switch {
	case line == "":
		return nil, false
	case strings.HasPrefix(line, "/tie "):
		return proto.Pack(proto.TieInit, []byte(strings.TrimSpace(line[len("/tie "):]))), false
	case line == "/untie":
		return []byte{byte(proto.Untie)}, false
	case line == "/quit":
		return []byte{byte(proto.DropMe)}, true
	default:
		return proto.Pack(proto.Message, []byte(line)), false
	}
}

func readLoop(ws *websocket.Conn, out io.Writer) {
	for {
		_, p, err := ws.ReadMessage()
		if err != nil {
			fmt.Fprintf(out, "* disconnected: %v\n", err)
			return
		}
		fmt.Fprintln(out, describe(p))
	}
}

// describe renders a server payload for the terminal.
func describe(p []byte) string {
	f, body, ok := proto.Split(p)
	if !ok {
		return "* empty frame"
	}
	switch f {
	case proto.AuthOK:
		return "* authenticated"
	case proto.AuthFault:
		return "* authentication failed"
	case proto.AuthOverAuth:
		return "* already authenticated"
	case proto.TieOK:
		return "* tied"
	case proto.TieOKWait:
		return "* waiting for the peer to accept"
	case proto.TieNoUser:
		return "* no such user"
	case proto.TieSelfTie:
		return "* cannot tie to yourself"
	case proto.TieOverTie:
		return "* already tied"
	case proto.Untie:
		return "* untied"
	case proto.OK:
		return "* ok"
	case proto.Fault:
		return "* not delivered"
	case proto.Message:
		return "> " + string(body)
	default:
		return fmt.Sprintf("* unknown response %q", p)
	}
}
