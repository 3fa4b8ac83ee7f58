package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pablobitw/goosegame/network"
)

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	packet, err := network.EncodePacket(msgID, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

const usage = `commands:
  create [variant]        open a lobby
  join CODE               join a lobby
  start                   start the match (host only)
  roll                    roll the dice
  ping                    keep your turn alive
  state                   show the board
  say TEXT                chat with the lobby
  vote PLAYER_ID REASON   start a vote-kick
  yes | no                cast your vote
  leave                   leave the match`

func main() {
	host := flag.String("host", "localhost:8080", "server address")
	user := flag.String("user", "", "username")
	guest := flag.Bool("guest", false, "play as a guest")
	flag.Parse()
	if *user == "" {
		log.Fatal("-user is required")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	q := url.Values{"user": {*user}}
	if *guest {
		q.Set("guest", "1")
	}
	u := url.URL{Scheme: "ws", Host: *host, Path: "/ws", RawQuery: q.Encode()}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	codes := make(chan string, 4)

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			packet, err := network.DecodePacket(message)
			if err != nil {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			if packet.MsgID == network.MsgTypeCreateLobby {
				var lobby struct {
					Code string `json:"code"`
				}
				if json.Unmarshal(packet.Data, &lobby) == nil && lobby.Code != "" {
					codes <- lobby.Code
				}
			}
			log.Printf("<- RECV (ID: %d): %s", packet.MsgID, string(packet.Data))
		}
	}()

	// keep the connection alive
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				send(c, network.MsgTypeHeartbeat, struct{}{})
			}
		}
	}()

	lines := make(chan string)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			text, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimSpace(text)
		}
	}()

	log.Println("Client started.\n" + usage)
	code := ""

	// Write loop
	for {
		select {
		case <-done:
			return
		case created := <-codes:
			code = created
			log.Printf("Lobby %s", code)
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case text, ok := <-lines:
			if !ok {
				return
			}
			cmd, rest, _ := strings.Cut(text, " ")
			var err error
			switch cmd {
			case "create":
				err = send(c, network.MsgTypeCreateLobby, network.CreateLobbyRequest{Variant: rest})
			case "join":
				code = strings.ToUpper(rest)
				err = send(c, network.MsgTypeJoinLobby, network.CodeRequest{Code: code})
			case "start":
				err = send(c, network.MsgTypeStartMatch, network.CodeRequest{Code: code})
			case "roll":
				err = send(c, network.MsgTypeRoll, network.CodeRequest{Code: code})
			case "ping":
				err = send(c, network.MsgTypeActivity, network.CodeRequest{Code: code})
			case "state":
				err = send(c, network.MsgTypeGetState, network.CodeRequest{Code: code})
			case "say":
				err = send(c, network.MsgTypeChat, network.ChatRequest{Code: code, Text: rest})
			case "vote":
				idText, reason, _ := strings.Cut(rest, " ")
				id, convErr := strconv.ParseUint(idText, 10, 32)
				if convErr != nil {
					log.Println("usage: vote PLAYER_ID REASON")
					continue
				}
				err = send(c, network.MsgTypeVoteStart, network.VoteStartRequest{TargetID: uint(id), Reason: reason})
			case "yes", "no":
				err = send(c, network.MsgTypeVoteCast, network.VoteCastRequest{Code: code, InFavor: cmd == "yes"})
			case "leave":
				err = send(c, network.MsgTypeLeave, network.CodeRequest{Code: code})
			case "":
				continue
			default:
				log.Println(usage)
				continue
			}
			if err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> SENT: %s", cmd)
		}
	}
}
