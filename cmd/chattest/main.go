// Command chattest is an interactive WebSocket client for poking at the chat
// transport during development.
//
// Usage:
//
//	chattest -url http://localhost:3000 -email demo@plistings.local -password password123
//
// Commands once connected:
//
//	ns <listingID>              create/attach a listing namespace
//	room <listingID>            open a chatroom with the listing's seller
//	join <chatroomID> [listID]  join an existing chatroom
//	msg <chatroomID> <text...>  send a message
//	typing <chatroomID>         send a typing indicator
//	stop <chatroomID>           stop the typing indicator
//	recv <chatroomID> <msgID>   acknowledge delivery of a message
//	seen <chatroomID>           mark incoming messages as seen
//	quit
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"plistings/internal/realtime"

	"github.com/gorilla/websocket"
)

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "API base URL")
	email := flag.String("email", "demo@plistings.local", "login email")
	password := flag.String("password", "password123", "login password")
	flag.Parse()

	token, err := login(*baseURL, *email, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	ticket, err := fetchTicket(*baseURL, token)
	if err != nil {
		log.Fatalf("ticket request failed: %v", err)
	}

	wsURL := strings.Replace(*baseURL, "http", "ws", 1) + "/api/ws/?ticket=" + ticket
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()
	log.Printf("connected as %s", *email)

	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				log.Printf("read error: %v", err)
				os.Exit(1)
			}
			var env realtime.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				log.Printf("<< unparseable frame: %s", frame)
				continue
			}
			log.Printf("<< %s %s", env.Event, env.Payload)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" {
			return
		}

		frame, err := buildFrame(fields)
		if err != nil {
			log.Printf("error: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Fatalf("write failed: %v", err)
		}
	}
}

func buildFrame(fields []string) ([]byte, error) {
	id := func(i int) (uint, error) {
		if len(fields) <= i {
			return 0, fmt.Errorf("missing argument")
		}
		v, err := strconv.ParseUint(fields[i], 10, 32)
		return uint(v), err
	}

	switch fields[0] {
	case "ns":
		listingID, err := id(1)
		if err != nil {
			return nil, err
		}
		return realtime.Encode(realtime.EventCreateNamespace,
			realtime.CreateNamespacePayload{ListingID: listingID}), nil
	case "room":
		listingID, err := id(1)
		if err != nil {
			return nil, err
		}
		return realtime.Encode(realtime.EventCreateRoom,
			realtime.CreateRoomPayload{ListingID: listingID}), nil
	case "join":
		roomID, err := id(1)
		if err != nil {
			return nil, err
		}
		listingID, _ := id(2)
		return realtime.Encode(realtime.EventJoinRoom,
			realtime.JoinRoomPayload{ChatroomID: roomID, ListingID: listingID}), nil
	case "msg":
		roomID, err := id(1)
		if err != nil {
			return nil, err
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("missing message text")
		}
		return realtime.Encode(realtime.EventMessage,
			realtime.MessagePayload{ChatroomID: roomID, Content: strings.Join(fields[2:], " ")}), nil
	case "typing", "stop":
		roomID, err := id(1)
		if err != nil {
			return nil, err
		}
		event := realtime.EventTyping
		if fields[0] == "stop" {
			event = realtime.EventStopTyping
		}
		return realtime.Encode(event, realtime.TypingPayload{ChatroomID: roomID}), nil
	case "recv":
		roomID, err := id(1)
		if err != nil {
			return nil, err
		}
		msgID, err := id(2)
		if err != nil {
			return nil, err
		}
		return realtime.Encode(realtime.EventMessageReceived,
			realtime.MessageReceivedPayload{ChatroomID: roomID, MessageID: msgID}), nil
	case "seen":
		roomID, err := id(1)
		if err != nil {
			return nil, err
		}
		return realtime.Encode(realtime.EventMessageSeen,
			realtime.MessageSeenPayload{ChatroomID: roomID}), nil
	default:
		return nil, fmt.Errorf("unknown command %q", fields[0])
	}
}

func login(baseURL, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(baseURL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login returned %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func fetchTicket(baseURL, token string) (string, error) {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/ws/ticket", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ticket endpoint returned %s", resp.Status)
	}

	var out struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Ticket, nil
}
